package crawler

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"strings"
	"time"

	"github.com/openbizdata/dircrawler/internal/cache"
)

// errPageClosed is the short-circuit failure used when a page handle
// reports itself closed before an operation even starts.
var errPageClosed = errors.New("page already closed")

// Category tags a browser-operation failure with its failure mode.
type Category int

// Failure categories, ordered roughly by how often they occur in practice.
const (
	CategoryUnknown Category = iota
	CategoryBrowserClosed
	CategoryTimeout
	CategoryNetwork
	CategoryProtocol
)

// String implements fmt.Stringer.
func (c Category) String() string {
	switch c {
	case CategoryBrowserClosed:
		return "browser_closed"
	case CategoryTimeout:
		return "timeout"
	case CategoryNetwork:
		return "network"
	case CategoryProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// OpError is the tagged error produced at the browser-automation
// boundary, so classification happens once, near the source, instead of
// by re-parsing message strings downstream.
type OpError struct {
	Category Category
	Err      error
}

// NewOpError wraps err with its failure category.
func NewOpError(category Category, err error) *OpError {
	return &OpError{Category: category, Err: err}
}

// Error implements the error interface.
func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

// Unwrap exposes the underlying error.
func (e *OpError) Unwrap() error { return e.Err }

// Classification is the classifier's verdict for one error.
type Classification struct {
	Category Category
	Critical bool
}

// Retryable reports whether the failure is worth retrying locally.
func (c Classification) Retryable() bool {
	return c.Category == CategoryBrowserClosed || c.Category == CategoryTimeout
}

// Keyword tables for errors that cross the automation boundary as bare
// strings. Checked in category order; first hit wins.
var (
	browserClosedMarkers = []string{
		"target closed",
		"session closed",
		"browser has been closed",
		"context or browser has been closed",
		"detached from target",
		"websocket: close",
		"page is closed",
	}
	timeoutMarkers = []string{
		"deadline exceeded",
		"timeout",
		"timed out",
	}
	networkMarkers = []string{
		"connection refused",
		"connection reset",
		"connection lost",
		"no such host",
		"network is unreachable",
	}
	protocolMarkers = []string{
		"protocol error",
		"invalid message",
	}
)

// Classifier maps errors to a Classification. Typed errors are matched
// directly; everything else falls back to keyword scanning over the
// message, memoized in a bounded TTL cache because the same failure
// tends to repeat in bursts.
type Classifier struct {
	memo *cache.TTL[string, Classification]
}

// NewClassifier builds a classifier with a 60s memoization window.
func NewClassifier() *Classifier {
	return &Classifier{
		memo: cache.NewTTL[string, Classification](60*time.Second, 1000),
	}
}

// Classify returns the failure category and criticality for err.
func (c *Classifier) Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	var opErr *OpError
	if errors.As(err, &opErr) {
		return Classification{
			Category: opErr.Category,
			Critical: opErr.Category != CategoryUnknown,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Category: CategoryTimeout, Critical: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Classification{Category: CategoryTimeout, Critical: true}
	}

	key := memoKey(err)
	if cached, ok := c.memo.Get(key); ok {
		return cached
	}

	result := classifyMessage(err.Error())
	c.memo.Set(key, result)
	return result
}

func classifyMessage(msg string) Classification {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, browserClosedMarkers):
		return Classification{Category: CategoryBrowserClosed, Critical: true}
	case containsAny(lower, timeoutMarkers):
		return Classification{Category: CategoryTimeout, Critical: true}
	case containsAny(lower, networkMarkers):
		return Classification{Category: CategoryNetwork, Critical: true}
	case containsAny(lower, protocolMarkers):
		return Classification{Category: CategoryProtocol, Critical: true}
	default:
		return Classification{Category: CategoryUnknown}
	}
}

func containsAny(msg string, markers []string) bool {
	for _, marker := range markers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func memoKey(err error) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(err.Error()))
	return fmt.Sprintf("%T:%d", err, h.Sum32())
}
