// Package common provides things used by various other components
package common

import (
	"time"
)

var (
	DurationPerSlot = time.Second * 12

	// MaxBlobsPerBlock is the deneb limit on blob commitments in a single payload
	MaxBlobsPerBlock = 6

	// MaxExtraDataBytes is the consensus limit on a payload's extra-data field
	MaxExtraDataBytes = 32
)

// HTTPServerTimeouts are various timeouts for requests to the operator HTTP server
type HTTPServerTimeouts struct {
	Read       time.Duration // Timeout for body reads. None if 0.
	ReadHeader time.Duration // Timeout for header reads. None if 0.
	Write      time.Duration // Timeout for writes. None if 0.
	Idle       time.Duration // Timeout to disconnect idle client connections. None if 0.
}
