package aggregate

import "math"

// unknownLabel は復号表にないコードに割り当てる既定ラベル。
const unknownLabel = "unknown"

// stressLabels はストレスコードからラベルへの復号表。
// 同期側の符号化表と同じ順序付けを共有する。
var stressLabels = map[int]string{
	0: "restored",
	1: "normal",
	2: "stressful",
}

// resilienceLabels はレジリエンスコードからラベルへの復号表。
var resilienceLabels = map[int]string{
	0: "limited",
	1: "adequate",
	2: "solid",
	3: "strong",
	4: "exceptional",
}

// hoursToSeconds は時間単位の計測値を秒単位のサマリー列値に変換する。
func hoursToSeconds(hours float64) int {
	return int(math.Round(hours * 3600))
}

// decodeStressLevel はストレスコードをラベルに復号する。
// 表にないコードは集計を失敗させず既定ラベルに落とす。
func decodeStressLevel(code float64) string {
	if label, ok := stressLabels[int(math.Round(code))]; ok {
		return label
	}
	return unknownLabel
}

// decodeResilienceLevel はレジリエンスコードをラベルに復号する。
// 表にないコードは集計を失敗させず既定ラベルに落とす。
func decodeResilienceLevel(code float64) string {
	if label, ok := resilienceLabels[int(math.Round(code))]; ok {
		return label
	}
	return unknownLabel
}
