package solver

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/chromedp/cdproto/input"
)

type execCall struct {
	Method string
	Params json.RawMessage
}

// fakeExec answers commands through handle and round-trips results through
// JSON the way the real channel does.
type fakeExec struct {
	mu     sync.Mutex
	calls  []execCall
	handle func(method string, params json.RawMessage) (any, error)
}

func (f *fakeExec) Execute(ctx context.Context, method string, params, res any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, _ := json.Marshal(params)
	f.mu.Lock()
	f.calls = append(f.calls, execCall{Method: method, Params: raw})
	handle := f.handle
	f.mu.Unlock()

	out, err := handle(method, raw)
	if err != nil {
		return err
	}
	if res == nil || out == nil {
		return nil
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, res)
}

func (f *fakeExec) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

type mouseEvent struct {
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

func (f *fakeExec) mouseEvents() []mouseEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []mouseEvent
	for _, c := range f.calls {
		if c.Method != input.CommandDispatchMouseEvent {
			continue
		}
		var evt mouseEvent
		_ = json.Unmarshal(c.Params, &evt)
		out = append(out, evt)
	}
	return out
}

func boxParamsNodeID(params json.RawMessage) int64 {
	var p struct {
		NodeID int64 `json:"nodeId"`
	}
	_ = json.Unmarshal(params, &p)
	return p.NodeID
}

// document builds a DOM.getDocument result whose body holds children.
func document(children ...map[string]any) map[string]any {
	if children == nil {
		children = []map[string]any{}
	}
	return map[string]any{"root": map[string]any{
		"nodeId":        1,
		"backendNodeId": 1,
		"nodeName":      "#document",
		"children": []map[string]any{{
			"nodeId":        2,
			"backendNodeId": 2,
			"nodeName":      "HTML",
			"children": []map[string]any{{
				"nodeId":        3,
				"backendNodeId": 3,
				"nodeName":      "BODY",
				"children":      children,
			}},
		}},
	}}
}

func element(nodeID, backendID int, name string, attrs ...string) map[string]any {
	return map[string]any{
		"nodeId":        nodeID,
		"backendNodeId": backendID,
		"nodeName":      name,
		"attributes":    attrs,
	}
}

func boxModel(x1, y1, x3, y3 float64) map[string]any {
	quad := []float64{x1, y1, x3, y1, x3, y3, x1, y3}
	return map[string]any{"model": map[string]any{
		"content": quad,
		"padding": quad,
		"border":  quad,
		"margin":  quad,
		"width":   int(x3 - x1),
		"height":  int(y3 - y1),
	}}
}
