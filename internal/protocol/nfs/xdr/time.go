package xdr

import (
	"time"

	"github.com/TritonDataCenter/manta-nfs/internal/protocol/nfs/types"
)

// TimeValToTime converts an nfstime3 to time.Time.
func TimeValToTime(tv types.TimeVal) time.Time {
	return time.Unix(int64(tv.Seconds), int64(tv.Nseconds))
}

// TimeToTimeVal converts time.Time to nfstime3. Times before the epoch
// are clamped to zero.
func TimeToTimeVal(t time.Time) types.TimeVal {
	if t.Unix() < 0 {
		return types.TimeVal{}
	}
	return types.TimeVal{
		Seconds:  uint32(t.Unix()),
		Nseconds: uint32(t.Nanosecond()),
	}
}
