package store

//go:generate mockgen -source=store.go -destination=mock/store.go -package=storemock

// Store persists a fob's state record. Implementations provide whole-record
// load and save with erase-then-program semantics: Save rewrites the entire
// record synchronously, and a Save that returns an error may leave the stored
// image undefined. The protocol core is the only writer.
type Store interface {
	// Load reads the stored record. Storage that has never been programmed
	// loads as an erased image (see ErasedState), not as an error.
	Load() (*FobState, error)

	// Save erases and rewrites the stored record.
	Save(state *FobState) error
}
