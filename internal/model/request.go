package model

import "strconv"

const DefaultPerturbProb = 0.01

// SubmissionOptions 单次提交的处理参数，每次提交重新构造，不持久化
type SubmissionOptions struct {
	DebugMode          bool     `json:"visual_debug"`
	PerturbProbability *float64 `json:"perturb_prob,omitempty"`
}

// Probability 返回取默认值并截断到 [0,1] 之后的扰动概率
func (o SubmissionOptions) Probability() float64 {
	if o.PerturbProbability == nil {
		return DefaultPerturbProb
	}
	p := *o.PerturbProbability
	if p != p { // NaN
		return DefaultPerturbProb
	}
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// FormValues 上传表单中与文件一起提交的字段
func (o SubmissionOptions) FormValues() map[string]string {
	return map[string]string{
		"perturb_prob": strconv.FormatFloat(o.Probability(), 'f', -1, 64),
		"visual_debug": strconv.FormatBool(o.DebugMode),
	}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RegisterRequest struct {
	Username         string `json:"username" binding:"required"`
	Email            string `json:"email" binding:"required"`
	Password         string `json:"password" binding:"required"`
	VerificationCode string `json:"verificationCode" binding:"required"`
}

type SendCodeRequest struct {
	Email string `json:"email" binding:"required"`
}
