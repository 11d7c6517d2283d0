// Package cos - see err.go. Identifier generation for node machine-key
// disambiguation.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import "github.com/google/uuid"

// GenUUID returns a new random UUID string (google/uuid, RFC 4122), used
// to give each node instance in a process a unique thread component of
// its (host, process, thread) machine key, since Go doesn't expose OS
// thread identity the way the original runtime does.
func GenUUID() string { return uuid.New().String() }
