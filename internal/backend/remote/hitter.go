// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package remote

import (
	"fmt"

	"github.com/apex/log"
	"github.com/hashicorp/go-tfe"

	"github.com/staranto/credctlgo/internal/cacheutil"
	"github.com/staranto/credctlgo/internal/config"
)

// StateBody fetches one version's raw body, by way of the local cache.
// State versions are immutable once uploaded, so a hit never needs
// revalidation.
func (be *BackendRemote) StateBody(sv *tfe.StateVersion) ([]byte, error) {
	hours, _ := config.GetInt("cache.clean", 720) //nolint:mnd
	if err := cacheutil.Purge(hours); err != nil {
		log.Warnf("failed to purge cache: %v", err)
	}

	if entry, ok := cacheutil.Read(be.cacheSubdirs(), sv.ID); ok {
		log.Debugf("cache hit: %s", entry.Path)
		return entry.Data, nil
	}

	body, err := be.Client.StateVersions.Download(be.Ctx, sv.DownloadURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download state version %s: %w", sv.ID, err)
	}

	if err := cacheutil.Write(be.cacheSubdirs(), sv.ID, body); err != nil {
		log.Warnf("failed to write state to cache: %v", err)
	}

	return body, nil
}

// The cache is organized by hostname and then organization, so side-by-side
// stacks on different servers never collide.
func (be *BackendRemote) cacheSubdirs() []string {
	return []string{be.Hostname, be.Organization}
}
