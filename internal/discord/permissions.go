package discord

import (
	"encoding/json"
	"strconv"
)

// PermissionManageGuild はManage Guild権限のビット（bit 5, 0x20）。
const PermissionManageGuild uint64 = 1 << 5

// ParsePermissions は権限ビットマスクをuint64として解釈する。
// Discordの権限は53ビットを超えるため浮動小数点を経由してはならない。
// ワイヤ上は10進文字列にも数値にもなる。パース失敗は0として扱う
// （エラーにはしない。権限判定はownerフラグのみにフォールバックする）。
func ParsePermissions(raw json.Number) uint64 {
	if raw == "" {
		return 0
	}
	v, err := strconv.ParseUint(raw.String(), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// CanManage はメンバーシップレコードがギルドを管理できるかを判定する。
// オーナーであるか、権限ビットマスクにManage Guildが立っていること。
func CanManage(g *Guild) bool {
	if g.Owner {
		return true
	}
	return ParsePermissions(g.Permissions)&PermissionManageGuild != 0
}
