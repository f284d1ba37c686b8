package skland

import (
	"context"
	"fmt"
	"net/http"
)

// AttendArknights checks in the Arknights account uid on channel gameID.
func (c *Client) AttendArknights(ctx context.Context, cred Cred, uid, gameID string) (*Attendance, error) {
	body := map[string]string{
		"uid":    uid,
		"gameId": gameID,
	}
	req, err := c.newSignedRequest(ctx, cred, http.MethodPost, "/api/v1/game/attendance", nil, body)
	if err != nil {
		return nil, err
	}

	var data struct {
		Awards []struct {
			Resource struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"resource"`
			Count int `json:"count"`
		} `json:"awards"`
	}
	if err := c.do(req, &data); err != nil {
		return nil, fmt.Errorf("arknights attendance: %w", err)
	}

	att := &Attendance{}
	for _, a := range data.Awards {
		att.Awards = append(att.Awards, Award{Name: a.Resource.Name, Count: a.Count})
	}
	return att, nil
}

// AttendEndfield checks in the Endfield role on serverID. The role is
// selected through the sk-game-role header; the request has no body.
func (c *Client) AttendEndfield(ctx context.Context, cred Cred, roleID, serverID string) (*Attendance, error) {
	req, err := c.newSignedRequest(ctx, cred, http.MethodPost, "/web/v1/game/endfield/attendance", nil, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("sk-game-role", fmt.Sprintf("%s_%s_%s", signPlatform, roleID, serverID))

	var data struct {
		AwardIDs []struct {
			ID string `json:"id"`
		} `json:"awardIds"`
		ResourceInfoMap map[string]struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Count int    `json:"count"`
		} `json:"resourceInfoMap"`
	}
	if err := c.do(req, &data); err != nil {
		return nil, fmt.Errorf("endfield attendance: %w", err)
	}

	att := &Attendance{}
	for _, a := range data.AwardIDs {
		info, ok := data.ResourceInfoMap[a.ID]
		if !ok {
			continue
		}
		att.Awards = append(att.Awards, Award{Name: info.Name, Count: info.Count})
	}
	return att, nil
}
