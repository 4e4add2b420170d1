package browser

import (
	"encoding/json"
	"strings"
)

const extractionTemplate = `() => {
  const imageSelectors = %IMAGES%;
  const titleSelectors = %TITLES%;
  const priceSelectors = %PRICES%;
  const seen = new Set();
  const images = [];
  const pick = (el) => {
    const srcset = el.getAttribute('srcset') || el.getAttribute('data-srcset') || '';
    const fromSet = srcset.split(',').map(s => s.trim().split(' ')[0]).filter(Boolean).pop();
    return el.getAttribute('data-src') || el.getAttribute('data-original') ||
      el.getAttribute('data-lazy-src') || el.currentSrc || el.src || fromSet || '';
  };
  for (const sel of imageSelectors) {
    for (const el of document.querySelectorAll(sel)) {
      let src = pick(el);
      if (!src || src.startsWith('data:')) continue;
      try { src = new URL(src, location.href).href; } catch (e) { continue; }
      if (!seen.has(src)) { seen.add(src); images.push(src); }
    }
  }
  const firstText = (sels) => {
    for (const sel of sels) {
      const el = document.querySelector(sel);
      if (el && el.textContent.trim()) return el.textContent.trim();
    }
    return '';
  };
  return {
    images: images,
    title: firstText(titleSelectors) || document.title || '',
    content: (document.body ? document.body.innerText : '').slice(0, 5000),
    price: firstText(priceSelectors),
  };
}`

// ExtractionScript builds the in-page routine used by Render. Selectors are
// embedded as JSON so quotes in them cannot break the script.
func ExtractionScript(imageSelectors, titleSelectors, priceSelectors []string) string {
	r := strings.NewReplacer(
		"%IMAGES%", jsonList(imageSelectors),
		"%TITLES%", jsonList(titleSelectors),
		"%PRICES%", jsonList(priceSelectors),
	)
	return r.Replace(extractionTemplate)
}

func jsonList(items []string) string {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "[]"
	}
	return string(b)
}
