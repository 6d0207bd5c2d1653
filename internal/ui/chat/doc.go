// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package chat is the terminal chat view: a Bubble Tea program that shows a
session's transcript, sends new messages and plays replies back as the
playback engine reveals them.

# Key Types

  - Model: the Bubble Tea model (viewport, input, spinner, status bar)
  - Surface: playback.Surface that turns engine callbacks into tea messages
  - KeyMap: keyboard bindings

Finished replies are shown in their glamour-rendered form. While a reply is
in progress its raw text is shown with a cursor. Only one reply per session
runs at a time; submitting while busy is refused.

# Usage

	err := chat.Run(ctx, chat.Config{
		Session:  sess,
		Sender:   svc,
		Renderer: termRenderer,
	}, chat.RunOptions{Registry: registry, Bus: b})
*/
package chat
