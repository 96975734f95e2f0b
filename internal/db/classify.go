package db

import (
	"context"
	"errors"
	"strings"

	"github.com/ukydev/care-assets/internal/syncerr"
	"go.mongodb.org/mongo-driver/mongo"
)

// MongoDB server error codes that indicate the server or network is
// temporarily unable to take the write.
var transientCodes = []int{
	6,     // HostUnreachable
	7,     // HostNotFound
	89,    // NetworkTimeout
	91,    // ShutdownInProgress
	189,   // PrimarySteppedDown
	262,   // ExceededTimeLimit
	9001,  // SocketException
	10107, // NotWritablePrimary
	11600, // InterruptedAtShutdown
	11602, // InterruptedDueToReplStateChange
	13435, // NotPrimaryNoSecondaryOk
}

const (
	codeUnauthorized         = 13
	codeAuthenticationFailed = 18
)

// classify converts a driver error into a syncerr transient or permanent
// error. Errors that are already classified pass through. Anything the
// driver does not identify is treated as transient and left to the retry
// limit.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if syncerr.IsTransient(err) || syncerr.IsPermanent(err) {
		return err
	}

	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return syncerr.Permanent(op, "not found", ErrNotFound)
	case isAuthError(err):
		return syncerr.Permanent(op, "not authorised", err)
	case errors.Is(err, context.Canceled),
		errors.Is(err, mongo.ErrClientDisconnected),
		mongo.IsTimeout(err),
		mongo.IsNetworkError(err):
		return syncerr.Transient(op, err)
	}

	var se mongo.ServerError
	if errors.As(err, &se) {
		if se.HasErrorLabel("RetryableWriteError") || se.HasErrorLabel("TransientTransactionError") {
			return syncerr.Transient(op, err)
		}
		for _, code := range transientCodes {
			if se.HasErrorCode(code) {
				return syncerr.Transient(op, err)
			}
		}
		if mongo.IsDuplicateKeyError(err) {
			return syncerr.Permanent(op, "duplicate key", err)
		}
		return syncerr.Permanent(op, "rejected by remote store", err)
	}

	return syncerr.Transient(op, err)
}

func isAuthError(err error) bool {
	var se mongo.ServerError
	if errors.As(err, &se) && (se.HasErrorCode(codeUnauthorized) || se.HasErrorCode(codeAuthenticationFailed)) {
		return true
	}
	// The driver reports handshake failures as wrapped connection errors.
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authentication failed") || strings.Contains(msg, "auth error")
}
