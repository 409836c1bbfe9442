package core

import (
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/telegate/teleop/internal/domain"
)

// DefaultMaxUsers caps a room when the creator does not say otherwise.
const DefaultMaxUsers = 6

// roomBaseNum seeds the per-service room id counter. Ids are monotonic and
// never reused within the counter's lifetime.
const roomBaseNum = 1000

// defaultRooms is the fixed set every service is bootstrapped with:
// {name, alias, kind}.
var defaultRooms = [][3]string{
	{"live_stream", "Camera", "cloud_rtc"},
	{"top_camera", "Front UP", "video"},
	{"bottom_camera", "Front Down", "video"},
	{"map", "Map", "video"},
	{"conference", "VideoConf", "local_rtc"},
	{"point_cloud", "PointCloud", "binary"},
	{"Teleop", "Teleop", "text"},
	{"other", "Other", "text"},
}

// Registry owns the room set of one service: room name -> room, plus a
// reverse index transport id -> {room name -> participant}. Pure in-memory
// state machine; all I/O lives with the callers. One coarse mutex guards
// everything, critical sections are short.
type Registry struct {
	mu        sync.Mutex
	serviceID string
	baseNum   int
	rooms     map[string]*domain.Room
	members   map[TransportID]map[string]domain.Participant
}

func NewRegistry(serviceID string) *Registry {
	return &Registry{
		serviceID: serviceID,
		baseNum:   roomBaseNum,
		rooms:     make(map[string]*domain.Room),
		members:   make(map[TransportID]map[string]domain.Participant),
	}
}

func (r *Registry) ServiceID() string { return r.serviceID }

// Empty reports whether the registry has no rooms yet. Callers use it to
// decide when Initialize must run; Initialize itself does not guard.
func (r *Registry) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms) == 0
}

// Initialize populates the default room set, drawing ids from the counter.
func (r *Registry) Initialize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, item := range defaultRooms {
		r.rooms[item[0]] = &domain.Room{
			ID:           r.baseNum + i,
			Name:         item[0],
			Alias:        item[1],
			Kind:         item[2],
			ServiceID:    r.serviceID,
			MaxUsers:     DefaultMaxUsers,
			Participants: []domain.Participant{},
		}
	}
	r.baseNum += len(defaultRooms)
	log.Debug().Str("module", "core.registry").Str("service", r.serviceID).Int("rooms", len(defaultRooms)).Msg("default rooms initialized")
}

// Resolve finds a room by exact name, then by numeric id, then by alias.
// Absence is a normal outcome, not an error. The returned room is a copy;
// mutations go through the registry.
func (r *Registry) Resolve(name string, id int) (domain.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.resolveLocked(name, id)
	if room == nil {
		return domain.Room{}, false
	}
	return cloneRoom(room), true
}

func (r *Registry) resolveLocked(name string, id int) *domain.Room {
	if id != 0 {
		for _, room := range r.rooms {
			if room.ID == id {
				return room
			}
		}
		// fall through: a numeric name may still match below
	}
	if name == "" {
		return nil
	}
	if room, ok := r.rooms[name]; ok {
		return room
	}
	if n, err := strconv.Atoi(name); err == nil {
		for _, room := range r.rooms {
			if room.ID == n {
				return room
			}
		}
	}
	for _, room := range r.rooms {
		if room.Alias == name {
			return room
		}
	}
	return nil
}

// Create inserts a new room, or returns the existing one when the name or
// id is already taken (idempotent). A zero roomID allocates the next
// counter value; a zero maxUsers falls back to DefaultMaxUsers.
func (r *Registry) Create(name, kind string, maxUsers, roomID int) domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	if room := r.resolveLocked(name, roomID); room != nil {
		return cloneRoom(room)
	}
	r.baseNum++
	if roomID == 0 {
		roomID = r.baseNum
	}
	if maxUsers <= 0 {
		maxUsers = DefaultMaxUsers
	}
	room := &domain.Room{
		ID:           roomID,
		Name:         name,
		Kind:         kind,
		ServiceID:    r.serviceID,
		MaxUsers:     maxUsers,
		Participants: []domain.Participant{},
	}
	r.rooms[name] = room
	log.Info().Str("module", "core.registry").Str("service", r.serviceID).Str("room", name).Int("room_id", roomID).Msg("room created")
	return cloneRoom(room)
}

// Delete removes the room matching by name or id, dropping its members
// from the reverse index. No-op if absent; safe to call twice.
func (r *Registry) Delete(name string, id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	var key string
	for k, room := range r.rooms {
		if (name != "" && room.Name == name) || (id != 0 && room.ID == id) {
			key = k
			break
		}
	}
	if key == "" {
		return false
	}
	for _, p := range r.rooms[key].Participants {
		r.dropIndexLocked(TransportID(p.ID), key)
	}
	delete(r.rooms, key)
	log.Info().Str("module", "core.registry").Str("service", r.serviceID).Str("room", key).Msg("room deleted")
	return true
}

// Join admits a participant. A join beyond capacity fails and leaves the
// registry unchanged. A participant with the same display name is replaced
// (last-writer-wins): human-friendly reconnection keyed by name, by
// documented behavior. The participant count is always the list length.
func (r *Registry) Join(name string, id int, p domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.resolveLocked(name, id)
	if room == nil {
		return ErrNotFound
	}
	if len(room.Participants) >= room.MaxUsers {
		return ErrRoomFull
	}
	kept := room.Participants[:0]
	for _, c := range room.Participants {
		if c.Name == p.Name {
			if c.ID != p.ID {
				r.dropIndexLocked(TransportID(c.ID), room.Name)
			}
			continue
		}
		kept = append(kept, c)
	}
	room.Participants = append(kept, p)
	if _, ok := r.members[TransportID(p.ID)]; !ok {
		r.members[TransportID(p.ID)] = make(map[string]domain.Participant)
	}
	r.members[TransportID(p.ID)][room.Name] = p
	log.Info().Str("module", "core.registry").Str("service", r.serviceID).Str("room", room.Name).Str("client", p.Name).Msg("participant joined")
	return nil
}

// Leave removes the participant bound to id from the named room. Matching
// inside the room is by the display name recorded at join time. No-op if
// the id never joined that room.
func (r *Registry) Leave(name string, id int, tid TransportID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.resolveLocked(name, id)
	if room == nil {
		return
	}
	r.leaveLocked(room, tid)
}

func (r *Registry) leaveLocked(room *domain.Room, tid TransportID) {
	p, ok := r.members[tid][room.Name]
	if !ok {
		return
	}
	kept := room.Participants[:0]
	for _, c := range room.Participants {
		if c.Name == p.Name {
			continue
		}
		kept = append(kept, c)
	}
	room.Participants = kept
	r.dropIndexLocked(tid, room.Name)
	log.Info().Str("module", "core.registry").Str("service", r.serviceID).Str("room", room.Name).Str("client", p.Name).Msg("participant left")
}

// Evict leaves every room the transport belongs to and drops its reverse
// index entry entirely. Used on transport disconnect.
func (r *Registry) Evict(tid TransportID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for roomName := range r.members[tid] {
		if room, ok := r.rooms[roomName]; ok {
			r.leaveLocked(room, tid)
		}
	}
	delete(r.members, tid)
}

func (r *Registry) dropIndexLocked(tid TransportID, roomName string) {
	if rooms, ok := r.members[tid]; ok {
		delete(rooms, roomName)
		if len(rooms) == 0 {
			delete(r.members, tid)
		}
	}
}

// RoomsOf returns the room name -> participant view for one transport.
func (r *Registry) RoomsOf(tid TransportID) map[string]domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]domain.Participant, len(r.members[tid]))
	for name, p := range r.members[tid] {
		out[name] = p
	}
	return out
}

// Known reports which of the given transport ids are current participants
// somewhere in this registry, preserving input order.
func (r *Registry) Known(ids []TransportID) []TransportID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TransportID, 0, len(ids))
	for _, id := range ids {
		if _, ok := r.members[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// Snapshot serializes the full registry for the persisted room-state blob.
func (r *Registry) Snapshot() *domain.RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := &domain.RoomState{
		ServiceID: r.serviceID,
		Rooms:     make(map[string]domain.Room, len(r.rooms)),
		BaseNum:   r.baseNum,
	}
	for name, room := range r.rooms {
		st.Rooms[name] = cloneRoom(room)
	}
	return st
}

// Hydrate reconstructs the room set and id counter from a persisted blob.
// Live participants are never carried across a reconstruction.
func (r *Registry) Hydrate(st *domain.RoomState) {
	if st == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if st.ServiceID != "" {
		r.serviceID = st.ServiceID
	}
	for name, room := range st.Rooms {
		room.Participants = []domain.Participant{}
		room.ServiceID = r.serviceID
		c := room
		r.rooms[name] = &c
	}
	if st.BaseNum > 0 {
		r.baseNum = st.BaseNum
	}
}

// Rooms returns a copy of every room, for the REST surface.
func (r *Registry) Rooms() []domain.Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, cloneRoom(room))
	}
	return out
}

func cloneRoom(room *domain.Room) domain.Room {
	c := *room
	c.Participants = append([]domain.Participant(nil), room.Participants...)
	return c
}
