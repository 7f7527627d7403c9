package dict

import "errors"

// ErrEntryTooLarge is returned by Insert when a string's encoded entry
// (a 4-byte length prefix plus its bytes) would not fit in a single
// pool page.
var ErrEntryTooLarge = errors.New("dict: string too large for one pool page")
