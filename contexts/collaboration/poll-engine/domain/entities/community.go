package entities

import "time"

type CommunityType string

const (
	CommunityTypeGroup  CommunityType = "loomio_group"
	CommunityTypeUsers  CommunityType = "loomio_users"
	CommunityTypePublic CommunityType = "public"
	CommunityTypeEmail  CommunityType = "email"
)

// Community is an audience a poll can be associated with. A poll holds at
// most one community of a given type.
type Community struct {
	CommunityID   string
	CommunityType CommunityType
	GroupID       string
	CreatedAt     time.Time
}

type VolumeLevel string

const (
	VolumeMute   VolumeLevel = "mute"
	VolumeQuiet  VolumeLevel = "quiet"
	VolumeNormal VolumeLevel = "normal"
	VolumeLoud   VolumeLevel = "loud"
)

// EmailWorthy reports whether the level opts a member into email delivery.
func (v VolumeLevel) EmailWorthy() bool {
	return v == VolumeNormal || v == VolumeLoud
}
