package storage

import "fmt"

// Config selects and configures a BlobStore variant.
type Config struct {
	Driver Driver       `toml:"driver" yaml:"driver"`
	Local  LocalConfig  `toml:"local" yaml:"local"`
	Object ObjectConfig `toml:"s3" yaml:"s3"`
}

// Open builds the BlobStore named by cfg.Driver. An empty driver selects
// local disk storage.
func Open(cfg Config) (BlobStore, error) {
	switch cfg.Driver {
	case DriverLocal, "":
		store, err := NewLocalDiskStore(cfg.Local)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverS3:
		store, err := NewObjectStore(cfg.Object)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
