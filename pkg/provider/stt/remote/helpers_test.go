package remote_test

import (
	"bytes"
	"io"
)

func bytesReadSeeker(b []byte) io.ReadSeeker { return bytes.NewReader(b) }
