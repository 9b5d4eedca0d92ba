//go:build !linux

package lang

import (
	"os"
	"time"
)

// statTimes falls back to the modification time on platforms where the
// stat structure is not portable.
func statTimes(fi os.FileInfo) (modified, accessed, created time.Time) {
	modified = fi.ModTime()
	return modified, modified, modified
}
