package config

import (
	"fmt"
	"strings"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// keyPart escapes the separator so IDs containing ':' cannot collide with
// another (attempt, round) pair.
var keyPart = strings.NewReplacer("%", "%25", ":", "%3A")

// AnswersKey returns the key holding a round's in-progress answers.
// Format: answers:{attemptId}:{roundId}
func (r *CacheKeyStruct) AnswersKey(attemptID, roundID string) string {
	return fmt.Sprintf("answers:%s:%s", keyPart.Replace(attemptID), keyPart.Replace(roundID))
}

// ActiveSessionKey returns the key recording which connection owns a student's
// live session for a package.
func (r *CacheKeyStruct) ActiveSessionKey(studentID, packageID string) string {
	return fmt.Sprintf("session:%s:package:%s:active", keyPart.Replace(studentID), keyPart.Replace(packageID))
}

var CacheKey = NewCacheKeyStruct()

// SessionKickChannel is the pub/sub channel on which a gateway announces that
// it took over a live session, so other instances drop their copy.
const SessionKickChannel = "session:kick"
