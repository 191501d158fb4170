package main

func instruction() string {
	return `
You are an expert career coach who helps people pivot into a new field.
You receive a candidate's resume as a PDF, sometimes with its extracted text.
Base all reasoning only on the resume. Do not invent experience, employers,
dates or certifications that are not in it.
Answer in Markdown.
	`
}

func strategyPrompt() string {
	return `
Create a Career Pivot Strategy Report for this resume.

Include:
- A short profile summary of where the candidate is today.
- Three realistic target roles for a pivot, each with why it fits.
- Transferable skills, mapped to each target role.
- Skill gaps and the fastest credible way to close each one.
- A 30/60/90 day action plan.

Use Markdown headings and at least one table.
	`
}

func rewritePrompt() string {
	return `
Rewrite this resume for the candidate's career pivot.

Keep every fact from the original. Reorder and reword so transferable skills
lead, use strong action verbs, and quantify results that are already stated.
Return only the rewritten resume as plain text, one section per block,
with no commentary before or after it.
	`
}
