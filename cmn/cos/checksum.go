// Package cos provides small, low-level utilities shared across the
// storage layer: content hashing and the bucketed-path naming scheme
// the on-disk store layout is built on.
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package cos

import (
	"encoding/hex"
	"fmt"

	"github.com/OneOfOne/xxhash"
)

// ContentHash returns a hex-encoded xxhash digest of data, used to derive
// collision-free media file names: a fast, non-cryptographic content
// fingerprint.
func ContentHash(data []byte) string {
	h := xxhash.New64()
	_, _ = h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash64 is the raw 64-bit form of ContentHash, used by the jsp
// metadata envelope.
func ContentHash64(data []byte) uint64 {
	return xxhash.Checksum64(data)
}

// BucketedPath lays out a content hash under `layers` directories of
// `prefixLen` hex characters each, so a store never has more than a few
// thousand entries in one flat directory.
//
// Example: BucketedPath("png", "ab12cd34ef", "png", 2, 2) -> "png/ab/12/ab12cd34ef.png"
func BucketedPath(bucket, hash, ext string, layers, prefixLen int) string {
	if len(hash) < layers*prefixLen {
		// Degenerate (very short) hash: fall back to a flat layout rather
		// than panic on a slice out of range.
		return fmt.Sprintf("%s/%s.%s", bucket, hash, ext)
	}
	path := bucket
	for i := 0; i < layers; i++ {
		path += "/" + hash[i*prefixLen:(i+1)*prefixLen]
	}
	path += "/" + hash
	if ext != "" {
		path += "." + ext
	}
	return path
}
