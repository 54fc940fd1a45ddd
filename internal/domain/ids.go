// Package domain contains the plain entities shared by the room
// lifecycle manager and the feature facades. Nothing in this package
// has lifecycle behaviour; it exists so core, transport and facades
// agree on the same vocabulary.
package domain

// RoomID identifies a room for the lifetime of the process.
type RoomID string

// RoomName is the application-facing name a room was requested under.
type RoomName string

// ContributorID identifies one feature's channel within a room. It is
// stable and unique within a single manager instance.
type ContributorID string

// Feature tags the contributor by the capability its channel backs.
type Feature string

const (
	FeatureMessages  Feature = "messages"
	FeaturePresence  Feature = "presence"
	FeatureTyping    Feature = "typing"
	FeatureReactions Feature = "reactions"
	FeatureOccupancy Feature = "occupancy"
)

// UserID identifies a member across rooms.
type UserID string
