// Journee Tracking - Adaptive Location Tracking and Visit Detection
// Copyright 2026 Journee contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/huyhuyhuy8s/journee-tracking

// Package models defines the domain types shared across the tracking core:
// raw GPS fixes, movement states, pending and finalized visits, geocoding
// results and outbound sync events.
//
// All types serialize with goccy/go-json and round-trip losslessly through
// the local persistence layer. Types in this package carry no behavior beyond
// validation and derived accessors; mutation rules (who may change what) are
// owned by the producing components.
package models
