package redis

import (
	"fmt"

	"github.com/mcoot/pxcanvas/internal/model"
)

// Key prefix for all canvas data
const keyPrefix = "pxcanvas"

// cellsKey is the HASH of "x,y" -> encoded cell
func cellsKey() string {
	return fmt.Sprintf("%s:cells", keyPrefix)
}

// revisionKey is the canvas revision counter
func revisionKey() string {
	return fmt.Sprintf("%s:revision", keyPrefix)
}

// deltasKey is the ZSET delta log, scored by revision
func deltasKey() string {
	return fmt.Sprintf("%s:deltas", keyPrefix)
}

// deltasChannel is the pub/sub channel carrying live deltas
func deltasChannel() string {
	return fmt.Sprintf("%s:deltas:live", keyPrefix)
}

// userStateKey is the HASH holding a user's cooldown record
func userStateKey(id model.UserID) string {
	return fmt.Sprintf("%s:user:%s", keyPrefix, id)
}

// paletteKey returns the Redis key for a user's saved palette
func paletteKey(id model.UserID) string {
	return fmt.Sprintf("%s:palette:%s", keyPrefix, id)
}

// playerKey returns the Redis key for a Player
func playerKey(id model.UserID) string {
	return fmt.Sprintf("%s:player:%s", keyPrefix, id)
}

// registeredPlayerKey returns the Redis key for a RegisteredPlayer
func registeredPlayerKey(playerID model.UserID) string {
	return fmt.Sprintf("%s:registered_player:%s", keyPrefix, playerID)
}

// usernameIndexKey returns the Redis key for the username -> player_id index
func usernameIndexKey(username string) string {
	return fmt.Sprintf("%s:idx:username:%s", keyPrefix, username)
}
