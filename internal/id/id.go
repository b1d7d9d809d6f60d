// Package id provides ID generation helpers used across services.
package id

import (
	nanoid "github.com/matoous/go-nanoid/v2"
)

const DefaultLength = 21

const (
	PrefixUser         = "usr"
	PrefixConversation = "conv"
	PrefixMessage      = "msg"
	PrefixAttachment   = "att"
	PrefixCall         = "call"
	PrefixNotification = "ntf"
	PrefixConnection   = "conn"
	PrefixUpload       = "up"
)

func New(prefix string) string {
	id, err := nanoid.New(DefaultLength)
	if err != nil {
		panic("nanoid generation failed: " + err.Error())
	}
	return prefix + "_" + id
}

func NewUser() string         { return New(PrefixUser) }
func NewConversation() string { return New(PrefixConversation) }
func NewMessage() string      { return New(PrefixMessage) }
func NewAttachment() string   { return New(PrefixAttachment) }
func NewCall() string         { return New(PrefixCall) }
func NewNotification() string { return New(PrefixNotification) }
func NewConnection() string   { return New(PrefixConnection) }
func NewUpload() string       { return New(PrefixUpload) }
