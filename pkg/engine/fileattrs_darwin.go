//go:build darwin

/*
Copyright 2011 Google Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package engine

import (
	"os"
	"syscall"
)

// statAttrs extracts uid/gid/atime/ctime from fi's platform-specific
// Sys(). Darwin's syscall.Stat_t names its timespec fields Atimespec/
// Ctimespec rather than Linux/BSD's Atim/Ctim, hence the separate
// build-tagged file. Zero values are returned when fi carries no
// *syscall.Stat_t (per spec.md §3: "0 when unavailable").
func statAttrs(fi os.FileInfo) (uid, gid int, atime, ctime int64) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, 0, 0
	}
	return int(st.Uid), int(st.Gid), st.Atimespec.Sec, st.Ctimespec.Sec
}
