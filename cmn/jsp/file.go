// Package jsp (JSON persistence) stores and loads JSON-encoded metadata
// with a checksummed envelope: write to a tie-suffixed temp file, fsync,
// rename into place, verify the digest on load.
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package jsp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"

	"github.com/IntelLabs/vdms-go/cmn/cos"
)

const signature = "vdms" // file signature

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// On-disk layout: signature, version, xxhash digest of the payload, then
// the JSON payload itself.
const (
	metaver = 1
	hdrLen  = 4 + 4 + 8
)

// Save atomically persists v as checksummed JSON at path.
func Save(path string, v any) (err error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("jsp: encoding %s: %w", path, err)
	}
	hdr := make([]byte, hdrLen)
	copy(hdr[0:4], signature)
	binary.BigEndian.PutUint32(hdr[4:8], metaver)
	binary.BigEndian.PutUint64(hdr[8:16], cos.ContentHash64(payload))

	tmp := path + ".tmp." + cos.GenTie()
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("jsp: creating %s: %w", tmp, err)
	}
	defer func() {
		if err == nil {
			return
		}
		if nestedErr := os.Remove(tmp); nestedErr != nil {
			glog.Errorf("Nested (%v): failed to remove %s, err: %v", err, tmp, nestedErr)
		}
	}()
	if _, err = file.Write(hdr); err == nil {
		_, err = file.Write(payload)
	}
	if err != nil {
		glog.Errorf("Failed to write %s: %v", tmp, err)
		_ = file.Close()
		return
	}
	if err = file.Sync(); err == nil {
		err = file.Close()
	} else {
		_ = file.Close()
	}
	if err != nil {
		glog.Errorf("Failed to flush and close %s: %v", tmp, err)
		return
	}
	err = os.Rename(tmp, path)
	return
}

// Load reads a file written by Save into v, removing the file when its
// checksum fails (a half-written metadata file is worse than a missing
// one).
func Load(path string, v any) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(raw) < hdrLen || !bytes.Equal(raw[0:4], []byte(signature)) {
		return fmt.Errorf("jsp: %s: bad signature", path)
	}
	if ver := binary.BigEndian.Uint32(raw[4:8]); ver != metaver {
		return fmt.Errorf("jsp: %s: unsupported version %d", path, ver)
	}
	payload := raw[hdrLen:]
	if want, have := binary.BigEndian.Uint64(raw[8:16]), cos.ContentHash64(payload); want != have {
		if errRm := os.Remove(path); errRm == nil {
			glog.Errorf("bad checksum: removing %s", path)
		} else {
			glog.Errorf("bad checksum: failed to remove %s: %v", path, errRm)
		}
		return fmt.Errorf("jsp: %s: checksum mismatch", path)
	}
	return json.Unmarshal(payload, v)
}
