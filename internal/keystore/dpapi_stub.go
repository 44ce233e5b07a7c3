//go:build !windows

package keystore

func protect([]byte) ([]byte, error) { return nil, ErrNoFacility }

func unprotect([]byte) ([]byte, error) { return nil, ErrNoFacility }
