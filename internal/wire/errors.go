// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package wire

import (
	"errors"
	"fmt"
)

// ErrNeedMoreData is returned by Decode when buf holds a truncated message;
// the caller should read more bytes and retry with a larger buffer. No
// bytes were consumed.
var ErrNeedMoreData = errors.New("wire: need more data")

// MalformedFrameError is returned by Decode when buf contains bytes that can
// never form a valid message: an unrecognized type tag, invalid UTF-8 in a
// string field, or an invalid entry/value type tag.
type MalformedFrameError struct {
	Reason string
}

func (e *MalformedFrameError) Error() string {
	return fmt.Sprintf("wire: malformed frame: %s", e.Reason)
}

func malformed(format string, args ...interface{}) error {
	return &MalformedFrameError{Reason: fmt.Sprintf(format, args...)}
}
