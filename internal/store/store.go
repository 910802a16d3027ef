// Package store implements the persisted-state layout: bucketed
// media directories under a root (jpg/, png/, tdb/, bin/, blobs/,
// videos/, descriptors/, tmp/) with content-derived file names, plus an
// S3-backed implementation of the same interface for object-store
// deployments.
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package store

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/golang/glog"
	"github.com/karrick/godirwalk"
	"golang.org/x/sys/unix"

	"github.com/IntelLabs/vdms-go/cmn"
	"github.com/IntelLabs/vdms-go/cmn/cos"
	"github.com/IntelLabs/vdms-go/cmn/jsp"
)

// ObjectStore is the read/write/delete/list/size surface behind blob
// persistence. Keys are relative, slash-separated paths; the same
// key layout is reproduced under a bucket prefix when backed by S3.
type ObjectStore interface {
	Write(key string, data []byte) error
	Read(key string) ([]byte, error)
	Delete(key string) error
	List(prefix string) ([]string, error)
	Size(key string) (int64, error)
}

// Buckets of the on-disk layout.
var buckets = []string{"pmgd", "jpg", "png", "tdb", "bin", "blobs", "videos", "descriptors", "tmp"}

const (
	bucketLayers    = 2
	bucketPrefixLen = 2
)

// manifest is persisted at the store root via jsp so a restarted process
// can verify it is pointing at a layout it understands.
type manifest struct {
	Version int      `json:"version"`
	Buckets []string `json:"buckets"`
}

const manifestName = ".vdms_store"

// LocalStore is the filesystem implementation: content goes under
// root/<bucket>/<p1>/<p2>/<hash>.<ext> so no directory grows large and
// repeated stores of identical bytes land on the same (already present)
// file rather than overwriting anything.
type LocalStore struct {
	root string
}

// NewLocal initializes the directory layout under root and writes (or
// verifies) the store manifest.
func NewLocal(root string) (*LocalStore, error) {
	for _, b := range buckets {
		if err := os.MkdirAll(filepath.Join(root, b), 0o755); err != nil {
			return nil, cmn.WrapErr(cmn.Exception, err, "store: creating bucket %s", b)
		}
	}
	mpath := filepath.Join(root, manifestName)
	var m manifest
	if err := jsp.Load(mpath, &m); err != nil {
		if !os.IsNotExist(err) {
			glog.Warningf("store: rewriting manifest %s: %v", mpath, err)
		}
		m = manifest{Version: 1, Buckets: buckets}
		if err := jsp.Save(mpath, m); err != nil {
			return nil, cmn.WrapErr(cmn.Exception, err, "store: writing manifest")
		}
	}
	return &LocalStore{root: root}, nil
}

// KeyFor derives the store key for a blob of the given format: the
// bucketed, content-hashed relative path every backend shares.
func KeyFor(format string, data []byte) string {
	bucket := format
	switch format {
	case cmn.FormatJPG, cmn.FormatPNG, cmn.FormatTDB, cmn.FormatBIN:
	case "video":
		bucket, format = "videos", "vdm"
	case "descriptor":
		bucket, format = "descriptors", "desc"
	default:
		bucket, format = "blobs", "blob"
	}
	return cos.BucketedPath(bucket, cos.ContentHash(data), format, bucketLayers, bucketPrefixLen)
}

func (ls *LocalStore) abs(key string) string { return filepath.Join(ls.root, filepath.FromSlash(key)) }

func (ls *LocalStore) Write(key string, data []byte) error {
	path := ls.abs(key)
	if _, err := os.Stat(path); err == nil {
		return nil // content-derived name: same bytes, same file
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return cmn.WrapErr(cmn.Exception, err, "store: creating %s", filepath.Dir(path))
	}
	tmp := path + ".tmp." + cos.GenTie()
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return cmn.WrapErr(cmn.Exception, err, "store: writing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return cmn.WrapErr(cmn.Exception, err, "store: renaming %s", path)
	}
	return nil
}

func (ls *LocalStore) Read(key string) ([]byte, error) {
	data, err := os.ReadFile(ls.abs(key))
	if err != nil {
		return nil, cmn.WrapErr(cmn.Exception, err, "store: reading %s", key)
	}
	return data, nil
}

func (ls *LocalStore) Delete(key string) error {
	if err := os.Remove(ls.abs(key)); err != nil && !os.IsNotExist(err) {
		return cmn.WrapErr(cmn.Exception, err, "store: removing %s", key)
	}
	return nil
}

// List walks the prefix's subtree and returns relative keys.
func (ls *LocalStore) List(prefix string) ([]string, error) {
	root := ls.abs(prefix)
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}
	var keys []string
	err := godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
				return nil
			}
			rel, err := filepath.Rel(ls.root, path)
			if err != nil {
				return err
			}
			keys = append(keys, filepath.ToSlash(rel))
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, cmn.WrapErr(cmn.Exception, err, "store: walking %s", prefix)
	}
	return keys, nil
}

func (ls *LocalStore) Size(key string) (int64, error) {
	fi, err := os.Stat(ls.abs(key))
	if err != nil {
		return 0, cmn.WrapErr(cmn.Exception, err, "store: stat %s", key)
	}
	return fi.Size(), nil
}

// TempDir returns the tmp/ bucket the media pipelines and event loop use
// for their working files.
func (ls *LocalStore) TempDir() string { return filepath.Join(ls.root, "tmp") }

// Available reports the bytes free on the filesystem holding the store
// root, logged at startup and exported as a gauge by the host.
func (ls *LocalStore) Available() (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(ls.root, &st); err != nil {
		return 0, cmn.WrapErr(cmn.Exception, err, "store: statfs %s", ls.root)
	}
	return int64(st.Bavail) * st.Bsize, nil
}
