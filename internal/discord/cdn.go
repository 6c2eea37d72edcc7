package discord

import (
	"fmt"
	"strconv"
)

const cdnBaseURL = "https://cdn.discordapp.com"

// AvatarURL はユーザーアバターのCDN URLを返す。
// アバター未設定の場合はユーザーIDから導出したデフォルトアバターを返す。
func AvatarURL(userID, avatar string) string {
	if avatar != "" {
		return fmt.Sprintf("%s/avatars/%s/%s.png?size=64", cdnBaseURL, userID, avatar)
	}
	// デフォルトアバターのインデックスはスノーフレークの上位ビットから導出する
	var index uint64
	if id, err := strconv.ParseUint(userID, 10, 64); err == nil {
		index = (id >> 22) % 6
	}
	return fmt.Sprintf("%s/embed/avatars/%d.png", cdnBaseURL, index)
}

// GuildIconURL はギルドアイコンのCDN URLを返す。アイコン未設定なら空文字列。
func GuildIconURL(guildID, icon string) string {
	if icon == "" {
		return ""
	}
	return fmt.Sprintf("%s/icons/%s/%s.png?size=96", cdnBaseURL, guildID, icon)
}
