package safety

import "regexp"

// denyCategory 是一组带严重级别的拒绝模式。
type denyCategory struct {
	Reason       string
	Severity     Severity
	Reclassable  bool // 命中业务白名单时是否允许改判
	patterns     []*regexp.Regexp
}

// 脚本注入等畸形输入模式，在基础校验阶段拦截。
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script\b`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)\bon(error|load|click|mouseover)\s*=`),
	regexp.MustCompile(`(?i)<\s*iframe\b`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
}

// 拒绝类别按固定顺序匹配，返回第一个命中的类别。
var denyCategories = []denyCategory{
	{
		Reason:      "violence/threat",
		Severity:    SeverityHigh,
		Reclassable: false,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bwant\s+(you|them|him|her)(\s+all)?\s+to\s+die\b`),
			regexp.MustCompile(`(?i)\bkill\s+(you|yourself|your|them|him|her)\b`),
			regexp.MustCompile(`(?i)\b(i('ll| will| am going to)\s+)?(hurt|attack|destroy)\s+you\b`),
			regexp.MustCompile(`(?i)\bdeserve(s)?\s+to\s+die\b`),
			regexp.MustCompile(`(?i)\b(shoot|stab|bomb)\s+(you|them|the)\b`),
		},
	},
	{
		Reason:      "hate_speech",
		Severity:    SeverityHigh,
		Reclassable: false,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(exterminate|eradicate)\s+(all\s+)?(those\s+)?people\b`),
			regexp.MustCompile(`(?i)\bsubhuman\b`),
		},
	},
	{
		Reason:      "sexual_content",
		Severity:    SeverityHigh,
		Reclassable: false,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bsexually\s+explicit\b`),
			regexp.MustCompile(`(?i)\b(porn|pornographic)\b`),
		},
	},
	{
		Reason:      "spam_phishing",
		Severity:    SeverityMedium,
		Reclassable: false,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\bverify\s+your\s+(account|password|identity)\b`),
			regexp.MustCompile(`(?i)\bclick\s+(here|this\s+link)\s+to\s+(claim|win|unlock)\b`),
			regexp.MustCompile(`(?i)\bwire\s+transfer\s+urgent(ly)?\b`),
			regexp.MustCompile(`(?i)\byou\s+(have\s+)?won\s+a?\s*(prize|lottery)\b`),
		},
	},
	{
		Reason:      "pii_solicitation",
		Severity:    SeverityMedium,
		Reclassable: false,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(give|send|tell)\s+me\s+(your|their)\s+(password|ssn|social\s+security|credit\s+card)\b`),
			regexp.MustCompile(`(?i)\b(home\s+address\s+and\s+phone|bank\s+account\s+number)\b`),
		},
	},
	{
		Reason:      "profanity",
		Severity:    SeverityLow,
		Reclassable: true,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\b(fuck|shit|bullshit|asshole)\b`),
			regexp.MustCompile(`(?i)\bdamn\s+(product|service|company)\b`),
		},
	},
	{
		Reason:      "personal_attack",
		Severity:    SeverityMedium,
		Reclassable: true,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`(?i)\byou('re| are)\s+(an?\s+)?(idiot|moron|incompetent|stupid|useless)\b`),
			regexp.MustCompile(`(?i)\b(idiot|moron)s?\s+(work|working)\s+(at|for)\b`),
		},
	},
}

// 业务白名单：合理的异议/投诉表述。直白但专业的批评不应被拦截。
var businessPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\btoo\s+expensive\b`),
	regexp.MustCompile(`(?i)\b(over|not\s+in|beyond)\s+(our\s+)?budget\b`),
	regexp.MustCompile(`(?i)\bprice\s+is\s+too\s+high\b`),
	regexp.MustCompile(`(?i)\bnot\s+interested\b`),
	regexp.MustCompile(`(?i)\bneed\s+(more\s+time|to\s+think)\b`),
	regexp.MustCompile(`(?i)\b(going|went)\s+with\s+(a\s+)?competitor\b`),
	regexp.MustCompile(`(?i)\bdoes(n't| not)\s+(meet|fit)\s+our\s+(needs|requirements)\b`),
	regexp.MustCompile(`(?i)\bnot\s+a\s+good\s+fit\b`),
	regexp.MustCompile(`(?i)\b(poor|terrible|awful|disappointing)\s+(support|service|quality|experience|onboarding)\b`),
	regexp.MustCompile(`(?i)\b(product|service|tool)\s+(is\s+)?(unreliable|buggy|slow)\b`),
	regexp.MustCompile(`(?i)\bmissing\s+(key\s+)?features?\b`),
	regexp.MustCompile(`(?i)\bcontract\s+terms\b`),
	regexp.MustCompile(`(?i)\bno\s+decision\s+(authority|maker)\b`),
}

func matchInjection(text string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// matchDenyCategory 返回第一个命中的拒绝类别，未命中返回 nil。
func matchDenyCategory(text string) *denyCategory {
	for i := range denyCategories {
		for _, p := range denyCategories[i].patterns {
			if p.MatchString(text) {
				return &denyCategories[i]
			}
		}
	}
	return nil
}

// matchBusinessContext 判断文本是否强匹配业务场景的合理表述。
func matchBusinessContext(text string) bool {
	for _, p := range businessPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
