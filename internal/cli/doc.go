// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the husky command line.
//
// # Commands
//
//	husky                     Start an interactive chat (same as husky chat)
//	husky chat [--thread ID]  Interactive chat, optionally resuming a saved thread
//	husky ask QUESTION        Ask one question and print the answer
//	husky history [QUERY]     List or search saved threads
//	husky history show N      Print a saved thread
//	husky history export N    Export a saved thread as markdown, json or html
//	husky history delete N    Delete a saved thread
//	husky history clear       Delete every saved thread
//	husky continue N          Continue someone else's shared thread as your own
//	husky quota               Show today's anonymous usage
//	husky login --token T     Store a session token (lifts the quota)
//	husky logout              Remove the session token
//	husky setup               Write ~/.husky/config.toml
//
// # Interactive Commands
//
//	/help            Show commands
//	/new             Start a new chat
//	/follow N        Ask suggested follow-up N
//	/regen           Ask the last question again
//	/edit            Put the last question back in the prompt
//	/feedback R [C]  Rate the last answer (1-5) with an optional comment
//	/history         List saved threads
//	/open N          Open saved thread N
//	/continue        Continue a shared thread as your own
//	/quota           Show usage
//	/quit            Exit
//	Ctrl+C           Stop the answer being streamed
//
// Answers stream as plain text. On a terminal with ui.markdown enabled they
// are rendered with glamour once complete instead.
package cli
