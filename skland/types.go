package skland

import (
	"errors"
	"fmt"
)

// App codes returned in the binding list.
const (
	AppArknights = "arknights"
	AppEndfield  = "endfield"
)

// ErrMalformed marks a response that could not be decoded.
var ErrMalformed = errors.New("malformed response")

// APIError is a non-2xx response or a response with a non-zero result code.
type APIError struct {
	HTTPStatus int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: http %d, code %d: %s", e.HTTPStatus, e.Code, e.Message)
}

type AppBinding struct {
	AppCode     string   `json:"appCode"`
	AppName     string   `json:"appName"`
	BindingList []Player `json:"bindingList"`
}

// Player is one game account under an app. Endfield accounts carry their
// playable characters in Roles; Arknights accounts are addressed by UID.
type Player struct {
	UID             string `json:"uid"`
	IsOfficial      bool   `json:"isOfficial"`
	IsDefault       bool   `json:"isDefault"`
	ChannelMasterID string `json:"channelMasterId"`
	ChannelName     string `json:"channelName"`
	NickName        string `json:"nickName"`
	Roles           []Role `json:"roles,omitempty"`
}

type Role struct {
	RoleID     string `json:"roleId"`
	ServerID   string `json:"serverId"`
	ServerName string `json:"serverName"`
	Nickname   string `json:"nickname"`
	Level      int    `json:"level"`
}

type Award struct {
	Name  string
	Count int
}

func (a Award) String() string {
	return fmt.Sprintf("%s×%d", a.Name, a.Count)
}

type Attendance struct {
	Awards []Award
}
