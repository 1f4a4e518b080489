// Package rsyncstats carries the small summary counters printed at the end
// of a transfer (bytes read from the wire, bytes written to the wire, and
// total file size transferred), the way upstream rsync's --stats does.
package rsyncstats

import "fmt"

// TransferStats summarizes one completed transfer.
type TransferStats struct {
	Read    int64 // bytes read from the network/pipe
	Written int64 // bytes written to the network/pipe
	Size    int64 // total size of the files transferred
}

// Add accumulates o into s, for combining generator+receiver or
// sender+server totals.
func (s *TransferStats) Add(o TransferStats) {
	s.Read += o.Read
	s.Written += o.Written
	s.Size += o.Size
}

func (s TransferStats) String() string {
	return fmt.Sprintf("sent %d bytes  received %d bytes  total size %d", s.Written, s.Read, s.Size)
}
