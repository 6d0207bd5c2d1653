// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package bus carries streaming events from the ingest side to display
// surfaces.
//
// There is one topic per session (StreamTopic) plus ChatUpdatedTopic for
// title changes. Delivery is fan-out in publish order. A topic with no
// subscribers drops what is published to it; there is no replay.
//
// # Key Types
//
//   - Bus: publish/subscribe contract
//   - MemoryBus: in-process driver on watermill's gochannel
//   - RedisBus: cross-process driver on Redis Streams
//   - StreamEvent: Token, Done or Error, with a fixed JSON wire shape
//   - TitleEvent: {id, title}
//
// # Usage
//
//	sub, err := b.Subscribe(ctx, bus.StreamTopic(id))
//	defer sub.Unsubscribe()
//	for payload := range sub.C() {
//	    ev, err := bus.DecodeEvent(payload)
//	    ...
//	}
package bus
