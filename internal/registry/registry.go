package registry

import (
	"sort"
	"sync"
	"time"
)

// ConnID 连接标识
type ConnID string

// Sender 连接的发送句柄
type Sender interface {
	Send(payload []byte) error
}

type membership struct {
	sender    Sender
	createdAt time.Time
	rooms     map[string]struct{}
}

// Registry 连接与房间（患者）订阅关系的内存索引
// 所有操作都是全函数：未知连接、重复加入、未加入就离开都是 no-op
type Registry struct {
	mu    sync.RWMutex
	conns map[ConnID]*membership
	rooms map[string]map[ConnID]struct{}
	now   func() time.Time
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[ConnID]*membership),
		rooms: make(map[string]map[ConnID]struct{}),
		now:   time.Now,
	}
}

// Register 登记连接；重复登记保留第一次的记录
func (r *Registry) Register(id ConnID, sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.conns[id]; ok {
		return
	}
	r.conns[id] = &membership{
		sender:    sender,
		createdAt: r.now(),
		rooms:     make(map[string]struct{}),
	}
}

// Unregister 从所有房间移除连接并删除记录
func (r *Registry) Unregister(id ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[id]
	if !ok {
		return
	}
	for room := range m.rooms {
		r.removeMember(room, id)
	}
	delete(r.conns, id)
}

// Join 加入房间
func (r *Registry) Join(id ConnID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[id]
	if !ok {
		return
	}
	m.rooms[room] = struct{}{}
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[ConnID]struct{})
		r.rooms[room] = members
	}
	members[id] = struct{}{}
}

// Leave 离开房间
func (r *Registry) Leave(id ConnID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.conns[id]
	if !ok {
		return
	}
	delete(m.rooms, room)
	r.removeMember(room, id)
}

// caller holds r.mu
func (r *Registry) removeMember(room string, id ConnID) {
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// MembersOf 房间成员快照
func (r *Registry) MembersOf(room string) []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	ids := make([]ConnID, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// AllConnections 全部连接快照
func (r *Registry) AllConnections() []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]ConnID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	return ids
}

// Lookup 解析快照中的连接；未命中说明连接已在快照之后关闭
func (r *Registry) Lookup(id ConnID) (Sender, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.conns[id]
	if !ok {
		return nil, false
	}
	return m.sender, true
}

// Rooms 连接当前加入的房间（排序）
func (r *Registry) Rooms(id ConnID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.conns[id]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(m.rooms))
	for room := range m.rooms {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}

// CreatedAt 连接登记时间
func (r *Registry) CreatedAt(id ConnID) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.conns[id]
	if !ok {
		return time.Time{}, false
	}
	return m.createdAt, true
}

// Count 当前连接数
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
