package docstore

import (
	"fmt"
	"time"
)

// Key layout. Every segment after the namespace is separated by '/', and
// message keys embed a zero-padded timestamp so key order is time order.
//
//	conv/{conv}
//	member/{conv}/{user}
//	msg/{conv}/{unixnano:020d}/{id}
//	msgid/{conv}/{id}            -> msg key
//	token/{user}
//	unread/{conv}/{user}         -> decimal counter
//	presence/{conv}/{user}

func convKey(convID string) []byte {
	return []byte("conv/" + convID)
}

func convPrefix() []byte {
	return []byte("conv/")
}

func memberKey(convID, userID string) []byte {
	return []byte("member/" + convID + "/" + userID)
}

func memberPrefix(convID string) []byte {
	return []byte("member/" + convID + "/")
}

func messageKey(convID string, ts time.Time, id string) []byte {
	return []byte(fmt.Sprintf("msg/%s/%020d/%s", convID, ts.UnixNano(), id))
}

func messagePrefix(convID string) []byte {
	return []byte("msg/" + convID + "/")
}

func messageIndexKey(convID, id string) []byte {
	return []byte("msgid/" + convID + "/" + id)
}

func tokenKey(userID string) []byte {
	return []byte("token/" + userID)
}

func unreadKey(convID, userID string) []byte {
	return []byte("unread/" + convID + "/" + userID)
}

func presenceKey(convID, userID string) []byte {
	return []byte("presence/" + convID + "/" + userID)
}

func presencePrefix(convID string) []byte {
	if convID == "" {
		return []byte("presence/")
	}
	return []byte("presence/" + convID + "/")
}

// prefixEnd returns the smallest key greater than every key with prefix.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
