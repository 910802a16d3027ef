// Package common holds the types shared by the image and video
// pipelines: the deferred operation model, the remote-operation
// contract, and the rectangle/format vocabulary both media kinds use.
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package common

import "github.com/IntelLabs/vdms-go/cmn"

// Format is one of the four media formats.
type Format string

const (
	FormatJPG Format = cmn.FormatJPG
	FormatPNG Format = cmn.FormatPNG
	FormatTDB Format = cmn.FormatTDB
	FormatBIN Format = cmn.FormatBIN
)

// Rectangle is a crop/region window
type Rectangle struct {
	X, Y, Width, Height int
}

// Kind is a media operation's tag, "tagged variants" design note.
type Kind string

const (
	KindRead           Kind = cmn.OpRead
	KindWrite          Kind = cmn.OpWrite
	KindResize         Kind = cmn.OpResize
	KindCrop           Kind = cmn.OpCrop
	KindThreshold      Kind = cmn.OpThreshold
	KindFlip           Kind = cmn.OpFlip
	KindRotate         Kind = cmn.OpRotate
	KindSyncRemoteOp   Kind = cmn.OpSyncRemoteOp
	KindRemoteOp       Kind = cmn.OpRemoteOp
	KindUserOp         Kind = cmn.OpUserOp
)

// IsRemote reports whether this operation kind hands off to the event
// loop's remote queue.
func (k Kind) IsRemote() bool {
	return k == KindSyncRemoteOp || k == KindRemoteOp || k == KindUserOp
}

// Operation is one deferred transformation in a media object's pending
// queue. Only the fields
// relevant to Kind are populated.
type Operation struct {
	Kind Kind

	// Resize
	Height, Width int
	// Crop
	Rect Rectangle
	// Threshold: pixels <= Value become 0.
	Value float64
	// Flip: 0 vertical, >0 horizontal, <0 both.
	FlipCode int
	// Rotate
	Angle    float64
	KeepSize bool
	// Remote/User
	URL     string
	Options map[string]cmn.Value
	// Video frame/time window, zero value means "whole object".
	Start, Stop float64
	ByTime      bool
}

// RemoteRequest is the multipart HTTP remote-operation contract:
// imageData is the current working file at its current format, jsonData
// is the options blob, and the id query param lets the UDF/remote
// service correlate requests.
type RemoteRequest struct {
	ID       string
	URL      string
	Data     []byte
	Filename string
	JSON     []byte
}

// RemoteErrorClass distinguishes transient from semantic remote
// failures; only transient classes are retried, and only once.
type RemoteErrorClass int

const (
	RemoteErrOther     RemoteErrorClass = iota
	RemoteErrConnect                    // DNS/connect failure
	RemoteErrTransient                  // 5xx
	RemoteErrSemantic                   // 4xx, non-200 that isn't 5xx
)

func (c RemoteErrorClass) Retryable() bool {
	return c == RemoteErrConnect || c == RemoteErrTransient
}
