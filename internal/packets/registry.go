package packets

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// ID is the one byte identifier written at the start of every frame.
type ID int8

// Kind tags how a registered packet is framed.
type Kind uint8

const (
	KindPlain Kind = iota
	KindRespondable
)

func (k Kind) String() string {
	if k == KindRespondable {
		return "respondable"
	}
	return "plain"
}

var (
	ErrUnknownPacketID    = errors.New("packets: unknown packet id")
	ErrUnregisteredPacket = errors.New("packets: packet type is not registered")
	ErrDuplicateID        = errors.New("packets: id registered twice")
	ErrDuplicateType      = errors.New("packets: type registered twice")
	ErrReservedID         = errors.New("packets: id is reserved for system packets")
	ErrInvalidFactory     = errors.New("packets: invalid packet factory")
)

// Info binds a wire id to the factory producing empty packets of one type.
type Info struct {
	ID   ID
	Kind Kind
	New  func() Packet
	// Name is filled in by the registry.
	Name string

	typ reflect.Type
}

// Plain describes a packet that is sent and decoded as-is.
func Plain(id int8, factory func() Packet) Info {
	return Info{ID: ID(id), Kind: KindPlain, New: factory}
}

// Exchanged describes a Respondable packet, which carries a correlation header
// ahead of its payload.
func Exchanged(id int8, factory func() Respondable) Info {
	info := Info{ID: ID(id), Kind: KindRespondable}
	if factory != nil {
		info.New = func() Packet { return factory() }
	}
	return info
}

// Registry is the bijection between wire ids and packet types. It's built once
// and never modified afterwards, so it can be shared without locking.
type Registry struct {
	byID   map[ID]Info
	byType map[reflect.Type]Info
}

// NewRegistry builds a registry holding the system packets followed by infos.
// Duplicate ids, duplicate types and use of a reserved id are rejected.
func NewRegistry(infos ...Info) (*Registry, error) {
	r := &Registry{
		byID:   make(map[ID]Info),
		byType: make(map[reflect.Type]Info),
	}
	for _, info := range systemPackets() {
		if err := r.add(info); err != nil {
			return nil, err
		}
	}
	for _, info := range infos {
		if IsSystem(info.ID) {
			return nil, fmt.Errorf("%w: %d", ErrReservedID, info.ID)
		}
		if err := r.add(info); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on configuration errors. It's meant
// for package level packet tables.
func MustRegistry(infos ...Info) *Registry {
	r, err := NewRegistry(infos...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) add(info Info) error {
	if info.New == nil {
		return fmt.Errorf("%w: id %d has no factory", ErrInvalidFactory, info.ID)
	}
	sample := info.New()
	if sample == nil {
		return fmt.Errorf("%w: id %d factory returned nil", ErrInvalidFactory, info.ID)
	}
	typ := reflect.TypeOf(sample)
	_, respondable := sample.(Respondable)
	if respondable != (info.Kind == KindRespondable) {
		return fmt.Errorf("%w: id %d registered as %s but %s is not", ErrInvalidFactory, info.ID, info.Kind, typ)
	}
	if existing, ok := r.byID[info.ID]; ok {
		return fmt.Errorf("%w: %d is used by %s and %s", ErrDuplicateID, info.ID, existing.Name, typeName(typ))
	}
	if existing, ok := r.byType[typ]; ok {
		return fmt.Errorf("%w: %s is registered as %d and %d", ErrDuplicateType, existing.Name, existing.ID, info.ID)
	}

	info.typ = typ
	info.Name = typeName(typ)
	r.byID[info.ID] = info
	r.byType[typ] = info
	return nil
}

func typeName(t reflect.Type) string {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Lookup resolves a wire id.
func (r *Registry) Lookup(id ID) (Info, error) {
	info, ok := r.byID[id]
	if !ok {
		return Info{}, fmt.Errorf("%w: %d", ErrUnknownPacketID, id)
	}
	return info, nil
}

// Resolve returns the registration for p's concrete type.
func (r *Registry) Resolve(p Packet) (Info, error) {
	if p == nil {
		return Info{}, fmt.Errorf("%w: nil packet", ErrUnregisteredPacket)
	}
	info, ok := r.byType[reflect.TypeOf(p)]
	if !ok {
		return Info{}, fmt.Errorf("%w: %T", ErrUnregisteredPacket, p)
	}
	return info, nil
}

// Create returns a fresh, empty packet for id.
func (r *Registry) Create(id ID) (Packet, Info, error) {
	info, err := r.Lookup(id)
	if err != nil {
		return nil, Info{}, err
	}
	p := info.New()
	if p == nil {
		return nil, info, fmt.Errorf("%w: %s factory returned nil", ErrInvalidFactory, info.Name)
	}
	return p, info, nil
}

// NameOf returns the registered name of p, or its Go type when unregistered.
func (r *Registry) NameOf(p Packet) string {
	if info, err := r.Resolve(p); err == nil {
		return info.Name
	}
	return fmt.Sprintf("%T", p)
}

// Infos returns every registration ordered by id.
func (r *Registry) Infos() []Info {
	infos := make([]Info, 0, len(r.byID))
	for _, info := range r.byID {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
