package grabber

import "errors"

var errUnsupportedFormat = errors.New("grabber: unsupported pixel format")
