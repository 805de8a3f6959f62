package archive

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/drpcorg/mural/relay"
	"github.com/drpcorg/mural/utils"
)

type HubOptions struct {
	Store    StoreOptions
	Archive  Options
	Previews int
}

// Hub owns the shared pebble store and preview cache and hands every room
// its own Archivist.
type Hub struct {
	store      *Store
	previews   *Previews
	opts       Options
	log        utils.Logger
	archivists *xsync.MapOf[string, *Archivist]
}

func NewHub(opts HubOptions) (*Hub, error) {
	if opts.Store.Logger == nil {
		opts.Store.Logger = opts.Archive.Logger
	}
	store, err := OpenStore(opts.Store)
	if err != nil {
		return nil, err
	}
	return &Hub{
		store:      store,
		previews:   NewPreviews(opts.Previews),
		opts:       opts.Archive,
		log:        opts.Archive.Logger,
		archivists: xsync.NewMapOf[string, *Archivist](),
	}, nil
}

// Attach is a relay.AuthorityOpt hook.
func (h *Hub) Attach(r *relay.Room) relay.Authority {
	a := NewArchivist(r, h.store, h.previews, h.opts)
	h.archivists.Store(r.Name(), a)
	return &detaching{Archivist: a, hub: h}
}

func (h *Hub) Archivist(room string) (*Archivist, bool) {
	return h.archivists.Load(room)
}

func (h *Hub) Store() *Store {
	return h.store
}

func (h *Hub) Previews() *Previews {
	return h.previews
}

func (h *Hub) Collector() *PebbleCollector {
	return NewPebbleCollector(h.store.DB())
}

// Close stops the archivists still running and closes the store.
func (h *Hub) Close() error {
	h.archivists.Range(func(name string, a *Archivist) bool {
		_ = a.Close()
		h.archivists.Delete(name)
		return true
	})
	return h.store.Close()
}

// detaching unregisters an archivist when its room closes it.
type detaching struct {
	*Archivist
	hub *Hub
}

func (d *detaching) Close() error {
	d.hub.archivists.Compute(d.name, func(old *Archivist, loaded bool) (*Archivist, bool) {
		return old, !loaded || old == d.Archivist
	})
	return d.Archivist.Close()
}
