package sessionrt

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ugorji/go/codec"
)

// cancelInfoDict is the on-disk shape of cancel_info.json: a single key,
// NotifyEnd, a UTC timestamp with no fractional seconds and a trailing Z.
type cancelInfoDict struct {
	NotifyEnd string `json:"NotifyEnd" codec:"NotifyEnd"`
}

// writeCancelInfo (re)writes <workingDirectory>/cancel_info.json with the
// given grace deadline, overwriting any previous content on re-cancel. It
// goes through WriteFileForUser so the file is accessible to the target
// principal.
func writeCancelInfo(workingDirectory string, notifyEnd time.Time, user SessionUser) error {
	dict := cancelInfoDict{NotifyEnd: notifyEnd.UTC().Format("2006-01-02T15:04:05Z")}
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, new(codec.JsonHandle))
	if err := enc.Encode(dict); err != nil {
		return fmt.Errorf("encoding cancel_info.json: %w", err)
	}
	path := filepath.Join(workingDirectory, "cancel_info.json")
	if err := WriteFileForUser(path, string(buf), user, 0); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
