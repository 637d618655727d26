package vlm

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/technosupport/ts-sentinel/internal/decision"
	"github.com/technosupport/ts-sentinel/internal/policy"
)

func policyBlock(p policy.Context) string {
	return fmt.Sprintf(
		"- time_of_day: %s\n"+
			"- home_mode: %s\n"+
			"- known_faces_present: %s\n"+
			"- camera_context: %s\n"+
			"- camera_zone: %s\n"+
			"- recent_events: %d in last 10 minutes (last=%s)",
		p.TimeOfDay, p.HomeMode, strconv.FormatBool(p.KnownFacesPresent),
		p.CameraContext, p.CameraZone, p.RecentEventsCount, p.RecentEventsLastTS)
}

// directPrompt is the compact prompt for the direct vision-model call. It
// demands the single-line JSON decision block the parser looks for.
func directPrompt(camera string, p policy.Context) string {
	return fmt.Sprintf(
		"You are an AI security camera analyst. Analyze this image from camera '%s'.\n"+
			"Location: %s\n"+
			"Zone: %s\n"+
			"Time: %s, Home: %s\n"+
			"Known faces: %s\n\n"+
			"Describe EXACTLY what you see. Be specific about:\n"+
			"- Number of people, clothing, build, distinguishing features\n"+
			"- Actions: walking, standing, reaching, looking around, carrying items\n"+
			"- Items: bags, tools, packages, phone, nothing\n"+
			"- Is behavior normal or suspicious for this location?\n\n"+
			"Then output a JSON block. Start the line with JSON: and put the entire object on ONE line.\n"+
			`JSON: {"subject":{"identity":"unknown","description":"brief appearance"},`+
			`"behavior":"what they are doing",`+
			`"risk":{"level":"low|medium|high|critical","confidence":0.0,"reason":"why"},`+
			`"type":"unknown_person|known_person|delivery|vehicle|animal|loitering|other",`+
			`"action":"notify_only|notify_and_save_clip|notify_and_light|notify_and_alarm"}`+"\n\n"+
			"Rules: low=routine, medium=unusual activity, high=suspicious/after-hours, critical=threat/break-in.\n"+
			"Match action to risk: low->notify_only, medium->notify_and_save_clip, high->notify_and_light, critical->notify_and_alarm.",
		camera, p.CameraContext, p.CameraZone, p.TimeOfDay, p.HomeMode,
		strconv.FormatBool(p.KnownFacesPresent))
}

// agentPrompt is the long-form prompt for the agent webhook path, where the
// agent opens the staged snapshot with its image tool.
func agentPrompt(camera, absMedia, relMedia string, p policy.Context, recentSummary string) string {
	return fmt.Sprintf(
		"Security alert from camera '%s'. Use the image tool to open and analyze the snapshot at: %s\n\n"+
			"Policy context for this event:\n%s\n\n"+
			"RECENT_EVENTS:\n%s\n\n"+
			"IMPORTANT: You CAN and MUST use the image tool to view the snapshot. "+
			"Do NOT say you cannot analyze the image — you have the image tool available. "+
			"Open the image first, then respond.\n\n"+
			"After viewing the image, your reply MUST have exactly three parts:\n\n"+
			"PART 1 — Send the snapshot image using this exact line:\n"+
			"MEDIA:%s\n\n"+
			"PART 2 — Below the MEDIA line, provide a brief security assessment:\n"+
			"[%s] Threat: LOW/MEDIUM/HIGH/CRITICAL\n"+
			"Description of what you see. Recommended action if any.\n\n"+
			"PART 3 — End your response with a JSON decision block on a SINGLE line:\n"+
			"JSON:\n"+
			`{"risk":"low|medium|high|critical","type":"unknown_person|known_person|delivery|vehicle|animal|loitering|other",`+
			`"confidence":0.00,"action":"notify_only|notify_and_save_clip|notify_and_light|notify_and_alarm",`+
			`"reason":"short explanation under 120 chars"}`+"\n\n"+
			"Action mapping: low→notify_only, medium→notify_and_save_clip, high→notify_and_light, critical→notify_and_alarm\n\n"+
			"Rules:\n"+
			"- 3-5 sentences max for the human-readable part\n"+
			"- Be factual and direct, no questions or disclaimers\n"+
			"- Do NOT ask the user anything, just report what you see\n"+
			"- Always include the MEDIA line BEFORE the text analysis\n"+
			"- The JSON: line MUST be the last line of your response",
		camera, absMedia, policyBlock(p), recentSummary, relMedia, camera)
}

// confirmPrompt asks for a second look at a fresh snapshot and a single
// CONFIRM_JSON verdict line.
func confirmPrompt(camera, absMedia, relMedia string, initial decision.Decision, p policy.Context, recentSummary string) string {
	initialJSON, _ := json.Marshal(initial)
	return fmt.Sprintf(
		"Confirmation check for camera '%s'. Re-check this newer snapshot: %s\n\n"+
			"Use the image tool before answering.\n"+
			"MEDIA:%s\n\n"+
			"Initial decision from first pass:\n%s\n\n"+
			"Policy context:\n%s\n\n"+
			"RECENT_EVENTS:\n%s\n\n"+
			"Return only one final line in this exact format:\n"+
			`CONFIRM_JSON: {"confirmed":true|false,"risk":"low|medium|high|critical",`+
			`"action":"notify_only|notify_and_save_clip|notify_and_light|notify_and_alarm","reason":"short reason"}`,
		camera, absMedia, relMedia, initialJSON, policyBlock(p), recentSummary)
}
