// Package domain models lightning strikes as published on the Blitzortung MQTT
// feed and the observer they are measured against.
//
// # Data Source
//
// Strikes are published by a relay of the Blitzortung.org websocket feed to an
// MQTT broker. Each strike lands on a topic whose path spells out the geohash
// of the strike location one character per level:
//
//	blitzortung/1.1/u/3/q/c/n/x/...  →  strike inside tile "u3qcnx..."
//
// Subscribing to "blitzortung/1.1/u/3/q/#" therefore captures every strike
// inside tile "u3q". See [Topics].
//
// # Payload
//
// A strike payload is a flat JSON object:
//
//	{"lat": 52.21, "lon": 21.03, "time": 1718000000123456789, "status": 0, "region": 1}
//
// lat and lon are WGS-84 degrees, time is nanoseconds since the Unix epoch.
// All three are required; any other field is carried through unchanged in
// [StrikeEvent.Extra] and written back out when the event is serialized.
//
// # Polar Coordinates
//
// Every accepted strike is annotated with its distance and azimuth from the
// observer at the moment it was decoded. Distance uses the haversine formula
// with a mean Earth radius of 6371 km, rounded to 0.1 km. Azimuth is the
// initial great-circle bearing, clockwise from north, rounded to whole degrees
// in [0, 360). A strike directly on top of the observer is (0.0, 0).
// See [ComputePolar].
//
// # ID Generation
//
// Strike IDs are deterministic SHA-256 hashes of lat|lon|time, so the same
// strike received twice (overlapping tiles, broker redelivery) keeps one ID
// downstream. See [generateID].
package domain
