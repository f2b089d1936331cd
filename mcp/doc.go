// Package mcp contains the Model Context Protocol payload types carried inside
// JSON-RPC envelopes: the initialize handshake, tool listing and tool calls.
// The structs mirror the wire representation exactly (json tags, string
// constants for method names) while staying free of transport logic.
//
// # Field presence
//
// Optional fields are omitted from the wire form when unset rather than
// emitted as null. Capability records use pointers so that "absent" (not
// supported) differs from "present but empty". Collections that the protocol
// requires (tools, content, properties) always serialize as arrays or objects,
// even when empty.
//
// # Content
//
// ContentBlock is a flat tagged union: Type is the discriminant and the
// case-specific fields sit beside it.
//
//	{"type":"text","text":"hi"}
//	{"type":"image","data":"<base64>","mimeType":"image/png"}
//	{"type":"resource","resource":{"uri":"file:///a.txt","text":"..."}}
//
// Use TextContent, ImageContent and ResourceContent rather than filling the
// struct by hand.
//
// # Compatibility
//
// The server reports LatestProtocolVersion in every initialize result and does
// not negotiate down; clients decide whether they can proceed.
package mcp
