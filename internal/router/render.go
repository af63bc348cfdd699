package router

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pantryline/pantryline/internal/inventory"
	"github.com/pantryline/pantryline/internal/session"
)

const (
	recipeGuide = "🍳 食譜功能已啟用！\n\n" +
		"📸 請上傳您想要製作的食物圖片，我會為您：\n" +
		"• 分析圖片中的食材\n" +
		"• 提供詳細的食譜步驟\n" +
		"• 建議烹飪方法和技巧\n\n" +
		"請直接上傳食物圖片即可開始！\n\n" +
		"💡 提示：\n" +
		"• 輸入其他功能關鍵字可切換功能\n" +
		"• 輸入「退出」可結束食譜功能"

	recordGuide = "📝 記錄功能已啟用！\n\n" +
		"📸 請上傳您想要記錄的食物圖片，我會為您：\n" +
		"• 記錄食物名稱\n" +
		"• 記錄入庫時間\n" +
		"• 保存到資料庫\n\n" +
		"請直接上傳食物圖片即可開始記錄！\n\n" +
		"💡 提示：\n" +
		"• 輸入其他功能關鍵字可切換功能\n" +
		"• 輸入「退出」可結束記錄功能"

	helpMessage = "📋 可用功能列表：\n\n" +
		"🍳 食譜功能 - 輸入「食譜功能」或「食譜」\n" +
		"   上傳食物圖片，獲得詳細食譜和烹飪建議\n" +
		"   （持續模式：可持續上傳圖片）\n\n" +
		"📝 記錄功能 - 輸入「記錄功能」或「記錄」\n" +
		"   上傳食物圖片，記錄食物名稱和入庫時間\n" +
		"   （持續模式：可持續上傳圖片）\n\n" +
		"🔍 查看功能 - 輸入「查看功能」或「查看」\n" +
		"   查看您的食物記錄列表\n" +
		"   （執行完後自動返回初始狀態）\n\n" +
		"🗑️ 刪除功能 - 輸入「刪除功能」或「刪除」\n" +
		"   記錄食品消耗，從最舊的記錄開始扣除\n" +
		"   （持續模式：可持續輸入消耗信息）\n\n" +
		"💡 功能切換：\n" +
		"   在任何持續模式下，輸入其他功能關鍵字即可切換功能\n\n" +
		"❓ 幫助 - 輸入「幫助」或「help」\n" +
		"   查看此功能列表\n\n" +
		"❌ 退出 - 輸入「退出」或「exit」\n" +
		"   結束當前功能模式，返回初始狀態"

	unknownMessage = "❓ 未識別的功能指令。\n\n請輸入「幫助」查看可用功能列表。"

	noModeExitMessage = "您目前沒有啟用任何功能模式。\n\n輸入「幫助」查看可用功能。"

	waitMessage = "請稍等，正在處理您的圖片..."

	imageGuideMessage = "📸 您上傳了圖片，但尚未啟用任何功能。\n\n" +
		"請先輸入「食譜功能」或「記錄功能」來啟用對應功能，\n" +
		"或輸入「幫助」查看所有可用功能。"

	unsupportedMessage = "目前不支援此格式，請上傳圖片。"

	viewErrorMessage      = "查詢記錄時發生錯誤，請稍後再試。"
	deleteEntryError      = "啟用刪除功能時發生錯誤，請稍後再試。"
	consumptionError      = "處理消耗信息時發生錯誤，請稍後再試。"
	unparsableConsumption = "❌ 無法解析消耗信息。\n\n" +
		"刪除方式：\n" +
		"1️⃣ 按編號刪除：輸入編號（例如：3）\n" +
		"2️⃣ 按食品名稱刪除：輸入食品名稱 數量（例如：蘋果 2個）"
	consumptionCheckFooter = "\n\n輸入「查看功能」查看更新後的記錄。"

	timeLayout = "2006-01-02 15:04:05"
)

var modeNames = map[session.Mode]string{
	session.ModeRecipe: "食譜",
	session.ModeRecord: "記錄",
	session.ModeView:   "查看",
	session.ModeDelete: "刪除",
}

func exitMessage(prior session.Mode) string {
	name, ok := modeNames[prior]
	if !ok {
		return noModeExitMessage
	}
	return fmt.Sprintf("已退出 %s 功能模式。\n\n輸入「幫助」查看可用功能。", name)
}

func modeGuide(mode session.Mode) string {
	return fmt.Sprintf("您目前在「%s」模式下。\n\n"+
		"請上傳圖片以使用該功能，或輸入其他功能關鍵字切換功能。\n"+
		"輸入「退出」可結束當前功能模式。", modeNames[mode])
}

func formatQuantity(q *float64) string {
	if q == nil {
		return "未指定"
	}
	return formatFloat(*q)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// elapsedSince humanizes the time since purchase at day, hour or minute
// granularity.
func elapsedSince(now, storedAt time.Time) string {
	elapsed := now.Sub(storedAt)
	switch {
	case elapsed >= 24*time.Hour:
		return fmt.Sprintf("%d 天", int(elapsed.Hours())/24)
	case elapsed >= time.Hour:
		return fmt.Sprintf("%d 小時", int(elapsed.Hours()))
	case elapsed >= time.Minute:
		return fmt.Sprintf("%d 分鐘", int(elapsed.Minutes()))
	default:
		return "剛剛"
	}
}

func renderView(displayName string, records []inventory.FoodRecord, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 %s 的記錄\n\n", displayName)
	if len(records) == 0 {
		b.WriteString("目前沒有任何記錄。\n使用「記錄功能」來記錄食物吧！")
		return b.String()
	}

	fmt.Fprintf(&b, "共 %d 筆記錄：\n\n", len(records))
	for i, rec := range records {
		fmt.Fprintf(&b, "%d. %s\n", i+1, rec.Name)
		fmt.Fprintf(&b, "   數量: %s\n", formatQuantity(rec.Quantity))
		fmt.Fprintf(&b, "   購買時間: %s\n", rec.StoredAt.Format(timeLayout))
		fmt.Fprintf(&b, "   已購買時間: %s", elapsedSince(now, rec.StoredAt))
		if i < len(records)-1 {
			b.WriteString("\n\n")
		} else {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func renderDeleteList(displayName string, snapshots []inventory.RecordSnapshot) string {
	var b strings.Builder
	b.WriteString("🗑️ 刪除功能已啟用！\n\n")
	fmt.Fprintf(&b, "📋 %s 的記錄\n\n", displayName)
	if len(snapshots) == 0 {
		b.WriteString("目前沒有任何記錄。\n使用「記錄功能」來記錄食物吧！")
		return b.String()
	}

	fmt.Fprintf(&b, "共 %d 筆記錄：\n\n", len(snapshots))
	for i, snap := range snapshots {
		fmt.Fprintf(&b, "%d. %s - 數量: %s - 時間: %s\n",
			i+1, snap.Name, formatQuantity(snap.Quantity), snap.StoredAt.Format(timeLayout))
	}
	b.WriteString("\n刪除方式：\n")
	b.WriteString("1️⃣ 按編號刪除：輸入編號即可刪除該記錄\n")
	b.WriteString("   例如：3 （刪除編號 3 的記錄）\n")
	b.WriteString("   或：3 1 （刪除編號 3 的記錄，消耗數量 1）\n\n")
	b.WriteString("2️⃣ 按食品名稱刪除：輸入食品名稱和數量\n")
	b.WriteString("   例如：蘋果 2個\n")
	b.WriteString("   系統會從最舊的記錄開始扣除。\n\n")
	b.WriteString("💡 提示：\n")
	b.WriteString("• 輸入其他功能關鍵字可切換功能\n")
	b.WriteString("• 輸入「退出」可結束刪除功能")
	return b.String()
}
