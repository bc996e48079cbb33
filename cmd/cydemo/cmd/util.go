package cmd

import (
	"math/rand"
	"time"
)

func nowMicros() int64 {
	return time.Now().UnixMicro()
}

func pseudoRandomUint64() uint64 {
	return rand.Uint64()
}
