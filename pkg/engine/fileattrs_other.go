//go:build !(linux || darwin || freebsd || netbsd || openbsd)

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

import "os"

// statAttrs has no POSIX uid/gid/atime/ctime to extract on this
// platform's os.FileInfo.Sys(), so it returns all zeros, per spec.md
// §3: "0 when unavailable".
func statAttrs(fi os.FileInfo) (uid, gid int, atime, ctime int64) {
	return 0, 0, 0, 0
}
