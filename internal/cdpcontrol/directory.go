package cdpcontrol

import (
	"sync"

	"github.com/chromedp/cdproto/target"
	"github.com/dgnsrekt/turnstile_agent/internal/tabs"
)

// TabInfo describes a page target and the tab id assigned to it.
type TabInfo struct {
	ID       tabs.TabID `json:"tab_id"`
	TargetID string     `json:"target_id"`
	URL      string     `json:"url"`
	Title    string     `json:"title,omitempty"`
}

// Directory hands out stable tab ids for CDP target ids. An id is never
// reused, even after the target closes.
type Directory struct {
	mu       sync.RWMutex
	next     tabs.TabID
	byTarget map[target.ID]*TabInfo
	byTab    map[tabs.TabID]target.ID
}

func NewDirectory() *Directory {
	return &Directory{
		byTarget: make(map[target.ID]*TabInfo),
		byTab:    make(map[tabs.TabID]target.ID),
	}
}

// Register returns the tab id for targetID, allocating one on first sight,
// and refreshes the stored URL and title.
func (d *Directory) Register(targetID target.ID, url, title string) TabInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	if info, ok := d.byTarget[targetID]; ok {
		info.URL = url
		info.Title = title
		return *info
	}
	d.next++
	info := &TabInfo{ID: d.next, TargetID: string(targetID), URL: url, Title: title}
	d.byTarget[targetID] = info
	d.byTab[info.ID] = targetID
	return *info
}

// Target resolves a tab id to its CDP target.
func (d *Directory) Target(tab tabs.TabID) (target.ID, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byTab[tab]
	return id, ok
}

func (d *Directory) Get(tab tabs.TabID) (TabInfo, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byTab[tab]
	if !ok {
		return TabInfo{}, false
	}
	return *d.byTarget[id], true
}

// Forget drops a closed tab.
func (d *Directory) Forget(tab tabs.TabID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.byTab[tab]; ok {
		delete(d.byTarget, id)
		delete(d.byTab, tab)
	}
}

func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byTab)
}
