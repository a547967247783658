// Package assistanttest provides a scriptable in-memory assistant.Client for tests.
package assistanttest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zhouzirui/docchat/backend/internal/model/chat"
	"github.com/zhouzirui/docchat/backend/internal/service/assistant"
)

// Run scripts one StreamRun call. Err fails the call itself; otherwise Events
// are delivered in order. With Block set the stream stalls after Events until
// the run context ends. With Stall set StreamRun itself waits for the context
// and returns its error, like a request still waiting for its first byte.
type Run struct {
	Events []assistant.Event
	Err    error
	Block  bool
	Stall  bool
}

// Reply scripts a successful run emitting the given fragments.
func Reply(fragments ...string) Run {
	events := make([]assistant.Event, 0, len(fragments)+1)
	for _, f := range fragments {
		events = append(events, assistant.Fragment(f))
	}
	return Run{Events: append(events, assistant.Done())}
}

// Posted records an AppendMessage call.
type Posted struct {
	ThreadID string
	Role     chat.Role
	Content  string
}

// Client is a fake assistant service. Zero value is ready to use; unscripted
// runs answer with Default, or "ok" when Default is empty.
type Client struct {
	Default Run

	CreateCollectionErr error
	UploadErr           error
	AppendErr           error
	// StallAppend makes AppendMessage wait for its context and return its error.
	StallAppend bool

	// Started receives the thread id of every StreamRun call, and of every
	// stalled AppendMessage call, when non-nil.
	Started chan string

	mu     sync.Mutex
	runs   []Run
	seq    int
	calls  map[string]int
	posted []Posted
	runReq []assistant.RunRequest
}

// Script queues runs consumed by subsequent StreamRun calls.
func (c *Client) Script(runs ...Run) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs = append(c.runs, runs...)
}

// Calls reports how many times op was invoked.
func (c *Client) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

// Posted returns the recorded AppendMessage calls.
func (c *Client) Posted() []Posted {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Posted(nil), c.posted...)
}

// RunRequests returns the recorded StreamRun requests.
func (c *Client) RunRequests() []assistant.RunRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]assistant.RunRequest(nil), c.runReq...)
}

func (c *Client) record(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calls == nil {
		c.calls = make(map[string]int)
	}
	c.calls[op]++
	c.seq++
	return c.seq
}

func (c *Client) CreateAssistant(_ context.Context, cfg assistant.Config) (assistant.Assistant, error) {
	n := c.record("CreateAssistant")
	return assistant.Assistant{
		ID:           fmt.Sprintf("asst-%d", n),
		Name:         cfg.Name,
		Instructions: cfg.Instructions,
		Model:        cfg.Model,
		Tools:        cfg.Tools,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (c *Client) CreateCollection(_ context.Context, name string) (assistant.Collection, error) {
	n := c.record("CreateCollection")
	if c.CreateCollectionErr != nil {
		return assistant.Collection{}, c.CreateCollectionErr
	}
	return assistant.Collection{ID: fmt.Sprintf("coll-%d", n), Name: name, CreatedAt: time.Now().UTC()}, nil
}

func (c *Client) UploadDocuments(_ context.Context, collectionID string, paths []string) (assistant.Collection, error) {
	c.record("UploadDocuments")
	if c.UploadErr != nil {
		return assistant.Collection{}, c.UploadErr
	}
	return assistant.Collection{ID: collectionID, Documents: len(paths), Chunks: len(paths)}, nil
}

func (c *Client) BindCollection(_ context.Context, assistantID, collectionID string) (assistant.Assistant, error) {
	c.record("BindCollection")
	return assistant.Assistant{ID: assistantID, CollectionIDs: []string{collectionID}}, nil
}

func (c *Client) CreateThread(_ context.Context) (assistant.Thread, error) {
	n := c.record("CreateThread")
	return assistant.Thread{ID: fmt.Sprintf("thread-%d", n), CreatedAt: time.Now().UTC()}, nil
}

func (c *Client) AppendMessage(ctx context.Context, threadID string, role chat.Role, content string) error {
	c.record("AppendMessage")
	if c.StallAppend {
		c.signal(threadID)
		<-ctx.Done()
		return ctx.Err()
	}
	if c.AppendErr != nil {
		return c.AppendErr
	}
	c.mu.Lock()
	c.posted = append(c.posted, Posted{ThreadID: threadID, Role: role, Content: content})
	c.mu.Unlock()
	return nil
}

func (c *Client) StreamRun(ctx context.Context, req assistant.RunRequest) (assistant.RunStream, error) {
	c.record("StreamRun")

	c.mu.Lock()
	c.runReq = append(c.runReq, req)
	run := c.Default
	if len(c.runs) > 0 {
		run = c.runs[0]
		c.runs = c.runs[1:]
	}
	c.mu.Unlock()

	if run.Err != nil {
		return nil, run.Err
	}
	if run.Stall {
		c.signal(req.ThreadID)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if len(run.Events) == 0 && !run.Block {
		run = Reply("ok")
	}

	c.signal(req.ThreadID)

	runCtx, cancel := context.WithCancel(ctx)
	events := make(chan assistant.Event)
	go func() {
		for _, ev := range run.Events {
			select {
			case events <- ev:
			case <-runCtx.Done():
				return
			}
		}
		if !run.Block {
			close(events)
		}
	}()

	return assistant.NewChanStream(runCtx, events, cancel), nil
}

func (c *Client) signal(threadID string) {
	if c.Started == nil {
		return
	}
	select {
	case c.Started <- threadID:
	default:
	}
}
