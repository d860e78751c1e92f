package slides

import (
	"html/template"
	"strconv"
	"strings"

	"github.com/sparkbox/go-kiosk/pkg/logger"
)

// Kind 幻灯片类型, 顺序固定。
type Kind string

const (
	KindOverview  Kind = "overview"
	KindMaterials Kind = "materials"
	KindSteps     Kind = "steps"
	KindOutcomes  Kind = "outcomes"
)

// Count 每个结果固定生成的幻灯片数。
const Count = 4

// TypewriterTarget 概览页打字机动画的目标元素 id。
const TypewriterTarget = "core-idea"

// Image 幻灯片上的外部图片实例。Original 供重试加载器重新推导地址。
type Image struct {
	ID       string `json:"id"`
	Src      string `json:"src"`
	Original string `json:"original"`
}

// Slide 可渲染的幻灯片描述。
type Slide struct {
	Kind   Kind          `json:"kind"`
	Title  string        `json:"title"`
	Markup template.HTML `json:"markup"`
	// Lines 供终端视图使用的纯文本内容。
	Lines            []string `json:"lines"`
	Image            *Image   `json:"image,omitempty"`
	TypewriterTarget string   `json:"typewriter_target,omitempty"`
	TypewriterText   string   `json:"typewriter_text,omitempty"`
}

// Options 构建参数。Nonce 同时用作缓存破坏值与图片实例 id 后缀。
type Options struct {
	Rule  ImageRule
	Nonce string
}

const markupTemplates = `
{{define "overview"}}<section class="slide slide-overview">
<h1>{{.R.ProjectName}}</h1>
<p class="meta">{{if .R.TargetUser}}<span class="target-user">{{.R.TargetUser}}</span>{{end}}{{if .R.Difficulty}}<span class="difficulty">{{.R.Difficulty}}</span>{{end}}</p>
{{if .Image}}<img id="{{.Image.ID}}" class="preview" src="{{.Src}}" data-original="{{.Image.Original}}" alt="preview">{{end}}
<p id="{{.Target}}" class="typewriter"></p>
</section>{{end}}
{{define "list"}}<section class="slide slide-{{.Kind}}">
<h2>{{.Title}}</h2>
{{if .Ordered}}<ol>{{range .Items}}<li>{{.}}</li>{{end}}</ol>{{else}}<ul>{{range .Items}}<li>{{.}}</li>{{end}}</ul>{{end}}
</section>{{end}}`

var tmpl = template.Must(template.New("slides").Parse(markupTemplates))

type listData struct {
	Kind    Kind
	Title   string
	Items   []string
	Ordered bool
}

// Build 生成四张幻灯片: 概览、材料、步骤、收获。
func Build(r Result, opts Options) []Slide {
	var img *Image
	if r.PreviewSource != "" {
		img = &Image{
			ID:       "preview-" + opts.Nonce,
			Src:      opts.Rule.Resolve(r.PreviewSource, opts.Nonce),
			Original: r.PreviewSource,
		}
	}

	overview := Slide{
		Kind:             KindOverview,
		Title:            r.ProjectName,
		Lines:            overviewLines(r),
		Image:            img,
		TypewriterTarget: TypewriterTarget,
		TypewriterText:   r.CoreIdea,
	}
	data := map[string]any{"R": r, "Image": img, "Target": TypewriterTarget}
	if img != nil {
		data["Src"] = imageSrc(img.Src)
	}
	overview.Markup = render("overview", data)

	return []Slide{
		overview,
		listSlide(KindMaterials, "Materials", r.Materials, false),
		listSlide(KindSteps, "Steps", r.Steps, true),
		listSlide(KindOutcomes, "Learning outcomes", r.Outcomes, false),
	}
}

// BuildFromPayload Normalize + Build。
func BuildFromPayload(payload map[string]any, opts Options) []Slide {
	return Build(Normalize(payload), opts)
}

func listSlide(kind Kind, title string, items []string, ordered bool) Slide {
	if items == nil {
		items = []string{}
	}
	lines := make([]string, len(items))
	for i, it := range items {
		if ordered {
			lines[i] = strconv.Itoa(i+1) + ". " + it
		} else {
			lines[i] = "• " + it
		}
	}
	return Slide{
		Kind:   kind,
		Title:  title,
		Lines:  lines,
		Markup: render("list", listData{Kind: kind, Title: title, Items: items, Ordered: ordered}),
	}
}

func overviewLines(r Result) []string {
	var lines []string
	if r.TargetUser != "" {
		lines = append(lines, "For: "+r.TargetUser)
	}
	if r.Difficulty != "" {
		lines = append(lines, "Difficulty: "+r.Difficulty)
	}
	return lines
}

func render(name string, data any) template.HTML {
	var b strings.Builder
	if err := tmpl.ExecuteTemplate(&b, name, data); err != nil {
		logger.Warn("slides: render failed", logger.FieldKey, name, logger.FieldError, err)
		return template.HTML(template.HTMLEscapeString(name))
	}
	return template.HTML(strings.TrimSpace(b.String()))
}

// imageSrc 内联图片 (data:image/...) 需显式标记为可信, 否则会被 html/template 过滤。
func imageSrc(src string) any {
	if strings.HasPrefix(strings.ToLower(src), "data:image/") {
		return template.URL(src)
	}
	return src
}
