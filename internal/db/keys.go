package db

import "strconv"

// RelayChannel is the pub/sub channel carrying event channel under prefix.
func RelayChannel(prefix, channel string) string {
	return prefix + channel
}

// RelayPattern matches every relay channel under prefix.
func RelayPattern(prefix string) string {
	return prefix + "*"
}

// NodeKey marks a live relay node.
func NodeKey(prefix, node string) string {
	return prefix + "node:" + node
}

func NodePattern(prefix string) string {
	return prefix + "node:*"
}

// ProfileKey holds the JSON profile of one player.
func ProfileKey(prefix string, playerID uint32) string {
	return prefix + "profile:" + strconv.FormatUint(uint64(playerID), 10)
}
