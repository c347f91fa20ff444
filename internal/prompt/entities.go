package prompt

import "fmt"

// Entities asks the model to list the medical entities of a question as JSON
// of the form {"entities":[{"name","type","confidence"}]}.
func Entities(question string) string {
	return fmt.Sprintf(`你是一名专业的医疗实体识别专家。请从以下医疗问题中提取所有医疗实体，并判断每个实体的类型。

问题：%s

请识别以下类型的医疗实体：
- Disease（疾病）：如感冒、高血压、糖尿病等
- Symptom（症状）：如头痛、发热、咳嗽、胸闷等
- Drug（药品）：如阿司匹林、布洛芬等
- Check（检查项）：如血常规、CT检查等
- Department（科室）：如内科、外科等
- Food（食物）：如梨、辣椒等

请以 JSON 格式返回结果，格式如下：
{
  "entities": [
    {"name": "实体名称", "type": "实体类型", "confidence": 0.9}
  ]
}

要求：
1. 只提取明确的医疗实体，不要提取疑问词、语气词等
2. 实体名称使用标准医学术语
3. 如果问题中没有医疗实体，返回 {"entities": []}
4. 只返回 JSON，不要其他解释

示例1：
问题：我头痛发热，可能是什么病？
{
  "entities": [
    {"name": "头痛", "type": "Symptom", "confidence": 0.95},
    {"name": "发热", "type": "Symptom", "confidence": 0.95}
  ]
}

示例2：
问题：感冒有什么症状？
{
  "entities": [
    {"name": "感冒", "type": "Disease", "confidence": 0.98}
  ]
}

示例3：
问题：高血压应该吃什么药？
{
  "entities": [
    {"name": "高血压", "type": "Disease", "confidence": 0.98}
  ]
}

JSON 结果：`, question)
}
