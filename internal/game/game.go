// Package game lists the sample gameplay modules for each side of a resource.
package game

import (
	"game-framework/internal/app"
	"game-framework/internal/game/modules/chat"
	"game-framework/internal/game/modules/hud"
	"game-framework/internal/game/modules/players"
)

func ServerModules() app.Modules {
	return app.Modules{}.
		Add(players.New).
		Add(chat.New)
}

func ClientModules() app.Modules {
	return app.Modules{}.
		Add(hud.New)
}
